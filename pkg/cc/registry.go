package cc

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/params"
)

// Registry maps eval codes to identities and validators. It is the single
// extension point between the base engine and contract logic.
type Registry struct {
	cfg      params.Contracts
	builtins []builtinKey

	initMu      sync.Mutex
	initialized bool
	initErr     error

	mu        sync.RWMutex
	ids       map[EvalCode]*Identity
	failed    map[EvalCode]error
	contracts map[EvalCode]Contract
}

func NewRegistry(cfg params.Contracts) *Registry {
	return newRegistry(cfg, builtinKeys)
}

func newRegistry(cfg params.Contracts, table []builtinKey) *Registry {
	return &Registry{
		cfg:       cfg,
		builtins:  table,
		ids:       make(map[EvalCode]*Identity),
		failed:    make(map[EvalCode]error),
		contracts: make(map[EvalCode]Contract),
	}
}

// Init derives every built-in identity and the configured user codes. Codes
// that fail verification are refused; the joined failures are returned.
// Calling Init again returns the first result.
func (r *Registry) Init() error {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	if r.initialized {
		return r.initErr
	}

	var errs []error
	for _, b := range r.builtins {
		if err := r.install(b.Code, b.verify); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range r.cfg.UserCodes {
		code := EvalCode(c)
		if err := r.install(code, func() (*Identity, error) { return r.deriveUser(code) }); err != nil {
			errs = append(errs, err)
		}
	}
	r.initialized = true
	r.initErr = errors.Join(errs...)
	return r.initErr
}

func (r *Registry) install(code EvalCode, derive func() (*Identity, error)) error {
	id, err := derive()
	if err == nil {
		err = r.checkPublished(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failed[code] = err
		return err
	}
	r.ids[code] = id
	return nil
}

func (r *Registry) deriveUser(code EvalCode) (*Identity, error) {
	id, err := DeriveUser(code)
	if err != nil {
		return nil, ConfigError(code, err, "derive user contract")
	}
	return id, nil
}

func (r *Registry) checkPublished(id *Identity) error {
	want, ok := r.cfg.Published[uint8(id.Code)]
	if !ok {
		return nil
	}
	if !common.IsHexAddress(want) || common.HexToAddress(want) != id.Unspendable {
		return ConfigError(id.Code, ErrIdentityMismatch, "address %s != published %s", id.Unspendable.Hex(), want)
	}
	return nil
}

// Identity returns the identity for code, deriving user-range codes on first use.
func (r *Registry) Identity(code EvalCode) (*Identity, error) {
	if r.cfg.Disabled[uint8(code)] {
		return nil, ConfigError(code, ErrDisabled, "contract disabled")
	}

	r.mu.RLock()
	id, ok := r.ids[code]
	failErr := r.failed[code]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}
	if failErr != nil {
		return nil, failErr
	}
	if !code.IsUser() {
		return nil, fmt.Errorf("eval code %s: %w", code, ErrNotFound)
	}

	// lazily derived user codes share the init lock with Init
	r.initMu.Lock()
	defer r.initMu.Unlock()
	r.mu.RLock()
	id, ok = r.ids[code]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}
	if err := r.install(code, func() (*Identity, error) { return r.deriveUser(code) }); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids[code], nil
}

// Register attaches a validator to an initialized eval code.
func (r *Registry) Register(code EvalCode, c Contract) error {
	if c == nil {
		return fmt.Errorf("cannot register nil contract for %s", code)
	}
	if _, err := r.Identity(code); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.contracts[code]; exists {
		return fmt.Errorf("contract %s already registered", code)
	}
	r.contracts[code] = c
	return nil
}

// Lookup returns the validator and identity for code. Codes that exist but
// carry no validator return ErrNoValidator together with the identity.
func (r *Registry) Lookup(code EvalCode) (Contract, *Identity, error) {
	id, err := r.Identity(code)
	if err != nil {
		return nil, nil, err
	}
	r.mu.RLock()
	c, ok := r.contracts[code]
	r.mu.RUnlock()
	if !ok {
		return nil, id, fmt.Errorf("eval code %s: %w", code, ErrNoValidator)
	}
	return c, id, nil
}

// Active reports whether code may be used at height.
func (r *Registry) Active(code EvalCode, height uint64) bool {
	if r.cfg.Disabled[uint8(code)] {
		return false
	}
	return height >= r.cfg.ActivationHeight[uint8(code)]
}

// Codes lists every eval code with a derived identity, ascending.
func (r *Registry) Codes() []EvalCode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EvalCode, 0, len(r.ids))
	for code := range r.ids {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Failed returns the configuration error recorded for code, if any.
func (r *Registry) Failed(code EvalCode) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failed[code]
}
