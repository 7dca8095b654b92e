package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethereumTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/reservewatch/reservewatch-go/pkg/anchor"
)

// RootRegistryABI is the interface of the on-chain root registry
const RootRegistryABI = `[
	{"type":"function","name":"updateRoot","inputs":[{"name":"root","type":"bytes32","internalType":"bytes32"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"merkleRoot","inputs":[],"outputs":[{"name":"","type":"bytes32","internalType":"bytes32"}],"stateMutability":"view"}
]`

const (
	methodUpdateRoot = "updateRoot"
	methodMerkleRoot = "merkleRoot"
)

// Backend is the chain access the anchor needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Config holds the registry location and the key that signs root updates
type Config struct {
	ContractAddress common.Address
	// PrivateKey is a hex secp256k1 key, with or without 0x
	PrivateKey string
}

// EthereumAnchor publishes roots to a registry contract
type EthereumAnchor struct {
	backend  Backend
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	address  common.Address
	logger   *zap.Logger

	// Serializes publishes so nonces are assigned in order
	mu sync.Mutex
}

var _ anchor.IRootAnchor = (*EthereumAnchor)(nil)

// Dial connects to rpcURL and returns an anchor bound to the registry in cfg
func Dial(ctx context.Context, rpcURL string, cfg *Config, logger *zap.Logger) (*EthereumAnchor, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", rpcURL)
	}

	a, err := NewEthereumAnchor(ctx, client, cfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return a, nil
}

// NewEthereumAnchor binds the registry contract on backend
func NewEthereumAnchor(ctx context.Context, backend Backend, cfg *Config, logger *zap.Logger) (*EthereumAnchor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ethereum anchor config cannot be nil")
	}
	if cfg.ContractAddress == (common.Address{}) {
		return nil, fmt.Errorf("contract address cannot be empty")
	}

	key, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain ID")
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transactor")
	}

	parsed, err := abi.JSON(strings.NewReader(RootRegistryABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse root registry ABI")
	}

	contract := bind.NewBoundContract(cfg.ContractAddress, parsed, backend, backend, backend)

	logger.Sugar().Infow("Ethereum anchor initialized",
		"contract", cfg.ContractAddress.Hex(),
		"from", auth.From.Hex(),
		"chain_id", chainID.String(),
	)

	return &EthereumAnchor{
		backend:  backend,
		contract: contract,
		auth:     auth,
		address:  cfg.ContractAddress,
		logger:   logger,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid private key")
	}
	return key, nil
}

// PublishRoot sends updateRoot(root), waits for it to be mined and returns the transaction hash
func (a *EthereumAnchor) PublishRoot(ctx context.Context, root [32]byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	opts := *a.auth
	opts.Context = ctx

	tx, err := a.contract.Transact(&opts, methodUpdateRoot, root)
	if err != nil {
		return "", errors.Wrapf(err, "failed to send %s transaction", methodUpdateRoot)
	}

	a.logger.Sugar().Infow("Publishing root",
		"root", common.Bytes2Hex(root[:]),
		"tx_hash", tx.Hash().Hex(),
		"contract", a.address.Hex(),
	)

	receipt, err := bind.WaitMined(ctx, a.backend, tx)
	if err != nil {
		return "", errors.Wrap(err, "failed to wait for transaction receipt")
	}
	if receipt.Status != ethereumTypes.ReceiptStatusSuccessful {
		a.logger.Sugar().Errorw("Root update transaction failed",
			"tx_hash", receipt.TxHash.Hex(),
			"status", receipt.Status,
			"gas_used", receipt.GasUsed,
		)
		return "", fmt.Errorf("transaction %s failed with status %d", receipt.TxHash.Hex(), receipt.Status)
	}

	a.logger.Sugar().Infow("Root published",
		"tx_hash", receipt.TxHash.Hex(),
		"block_number", receipt.BlockNumber.Uint64(),
		"gas_used", receipt.GasUsed,
	)

	return tx.Hash().Hex(), nil
}

// CurrentRoot reads merkleRoot() from the registry
func (a *EthereumAnchor) CurrentRoot(ctx context.Context) ([32]byte, error) {
	var out []interface{}
	if err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodMerkleRoot); err != nil {
		return [32]byte{}, errors.Wrapf(err, "failed to call %s", methodMerkleRoot)
	}
	if len(out) != 1 {
		return [32]byte{}, fmt.Errorf("unexpected %s result length %d", methodMerkleRoot, len(out))
	}

	root := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	return root, nil
}

// From returns the address that signs root updates
func (a *EthereumAnchor) From() common.Address {
	return a.auth.From
}
