package cc

// builtinKeys are the literal identities of the built-in contracts.
// The Oracles private key does not produce its published pubkey, so Init
// refuses that contract.
var builtinKeys = []builtinKey{
	{EvalAssets, "9b1766e58266acb6ba438374f763113bf0f3506fd96b6785f97af0544db13077", "02adf84e0e075cf90868bd4e3d34a03420e034719649c41f371fc70d8e33aa2702"},
	{EvalFaucet, "d44ff231717d28024bc7dd71a039c4be1afeebc246da76f807533d96b4caa0e9", "03682b255c40d0cde8faee381a1a50bbb89980ff24539cb8518e294d3a63cefe12"},
	{EvalRewards, "82f5d2e7d6993377fb800097233d1e6f61a9b52e5eb4966fbced6be2bb7b4bb3", "03da60379d924c2c30ac290d2a86c2ead128cb7bd571f69211cb95356e2dcc5eb9"},
	{EvalDice, "0ee8f5b43d25cc35d1f12f045f0126b8d1ac3a5aeae025a28f2a8e0ef934fa77", "039d966927cfdadab3ee6c56da63c21f17ea753dde4b3dfd41487103e24b27e94e"},
	{EvalFSM, "11e1ea3edb36f0a8c634e121b802b94b12378fa0862350b25fe4e7360fdaaefc", "039b52d294b413b07f3643c1a28c5467901a76562d8b39a785910ae0a0f3043810"},
	{EvalAuction, "8c1bb78c02a39d212859f5eadaec0d11cd3847ac0b6f19c02436bf1c0a0631fb", "037eefe050c14cb60ae65d5b2f69eaa1c9006826d729bc0957bdc3024e3ca1dbe6"},
	{EvalLotto, "b4acc2d96734d758804e2555c0506684bba2e7c03917b4c507b73fca07b09aeb", "03f72d2c4db440df1e706502b09ca5fec73ffe954ea1883e4049e98da68690d98f"},
	{EvalHeir, "9da1f8f7ba0a9136899a86306320d7dfaa35e399322b63c0669c93c45e9db9ce", "03c91bef3d7cc59c3a89286833a3446b29e52a5e773f738a1ad2b09785e5f4179e"},
	{EvalChannels, "ec9136152dd4487322364f6a345c610f01b479e81c2fa11d4a0a2116ea828460", "035debdb19b1c98c615259339500511d6216a3ffbeb28ff5655a7ef5790a12ab0b"},
	{EvalOracles, "f74b5ba27a5e9cda89b1cbb9e69c2c708537dd007a67ff7c621be2fb048f85bf", "038c1d42db6a45a57eccb8981b078fb7857b9b496293fe299d2b8d120ac5b5691a"},
	{EvalPrices, "0a3be75dce06edb7c0b1bee87b5ad499b88ddeacb27e7a529615d2a0c6b98961", "039894cb054c0032e99e65e715b03799607aa91212a16648d391b6fa2cc52ed0cf"},
	{EvalPegs, "52564c7887f7a239b090b7b862800f83189df4f4bd2809a99b8554160f3ffb65", "03c75c1de29a35e41606363b430c08be1c2dd93cf7a468229a082cc79c7b77eece"},
	{EvalMarmara, "7c0b549b65d48957df05fea26241a9090f2a6b112cbebd06318dc0b996763f24", "03afc5be570d0ff419425cfcc580cc762ab82baad88c148f5b028d7db7bfeee61d"},
	{EvalPayments, "03c973c2b8303dbdc8d9bf0249d9656145ed9e9351ab8b2ee7c740f1c4d2c05b", "0358f1764f82c63abc7c7455555fd1d3184905e30e819e97667e247e5792b46856"},
	{EvalGateways, "f74b5ba27a5e9cda89b1cbb9e69c2c708537dd007a67ff7c621be2fb048f85bf", "03ea9c062b9652d8eff34879b504eda0717895d27597aaeb60347d65eed96ccb40"},
	{EvalTokens, "1d0d0dce2dd2e19df5b626d5ada0f00add7a727d1735b5e32c6ca9a203164bcf", "03e6191c70c9c9a28f9fd87089b9488d0e6c02fb629df64979c9cdb6b2b4a68d95"},
	{EvalImportGateway, "65ef27eb3db0b4ae0fbc77dbf840489052209e453b49d897608c274c5946e1df", "0397231cfe04ea32d5fafb2206773ec9fba6e15c5a4e86064468bca195f7542714"},
}
