// Package walletd implements a custodial wallet service for EVM-compatible
// blockchains.
//
// The service issues and manages custodial wallets, submits native and ERC-20
// asset transfers, and verifies inbound transfers against on-chain receipts
// and event logs, matching them to managed wallets. It exposes a RESTful API
// for wallet provisioning, transfer submission and transfer verification.
//
// The repository is laid out as a single service binary (cmd/walletd) over a
// set of shared libraries (lib/...) and domain packages (wallet, tx) that
// hold the transaction lifecycle engine.
package walletd
