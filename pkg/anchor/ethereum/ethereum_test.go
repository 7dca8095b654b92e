package ethereum

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethereumTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// rootRegistryBytecode deploys a minimal registry: a 4-byte call returns
// storage slot 0, any longer call stores calldata[4:36] into slot 0.
// That is enough to serve merkleRoot() and updateRoot(bytes32).
const rootRegistryBytecode = "0x601a80600b6000396000f336600414600e57600435600055005b60005460005260206000f3"

type simulatedChain struct {
	backend  *simulated.Backend
	key      string
	contract common.Address
}

func newSimulatedChain(t *testing.T) *simulatedChain {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	backend := simulated.NewBackend(ethereumTypes.GenesisAlloc{
		from: {Balance: new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))},
	})
	t.Cleanup(func() { _ = backend.Close() })

	client := backend.Client()
	chainID, err := client.ChainID(context.Background())
	require.NoError(t, err)

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	require.NoError(t, err)

	parsed, err := abi.JSON(strings.NewReader(RootRegistryABI))
	require.NoError(t, err)

	address, _, _, err := bind.DeployContract(auth, parsed, common.FromHex(rootRegistryBytecode), client)
	require.NoError(t, err)
	backend.Commit()

	// Mine continuously so WaitMined returns
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()
	t.Cleanup(func() { close(stop) })

	return &simulatedChain{
		backend:  backend,
		key:      hexutil.Encode(crypto.FromECDSA(key)),
		contract: address,
	}
}

func TestEthereumAnchor_PublishAndRead(t *testing.T) {
	chain := newSimulatedChain(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := NewEthereumAnchor(ctx, chain.backend.Client(), &Config{
		ContractAddress: chain.contract,
		PrivateKey:      chain.key,
	}, zap.NewNop())
	require.NoError(t, err)

	root, err := a.CurrentRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, [32]byte{}, root)

	want := common.HexToHash("0x9ba7e3646f9cebaf28a92a45f56fc28a60a8d9efe781c0513701715e2cfe7f14")
	ref, err := a.PublishRoot(ctx, want)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "0x"))
	assert.Len(t, ref, 66)

	root, err = a.CurrentRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, [32]byte(want), root)

	// A second publish replaces the first
	next := common.HexToHash("0x01")
	_, err = a.PublishRoot(ctx, next)
	require.NoError(t, err)

	root, err = a.CurrentRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, [32]byte(next), root)
}

func TestEthereumAnchor_SignerAddress(t *testing.T) {
	chain := newSimulatedChain(t)

	a, err := NewEthereumAnchor(context.Background(), chain.backend.Client(), &Config{
		ContractAddress: chain.contract,
		PrivateKey:      strings.TrimPrefix(chain.key, "0x"),
	}, zap.NewNop())
	require.NoError(t, err)

	key, err := crypto.HexToECDSA(strings.TrimPrefix(chain.key, "0x"))
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), a.From())
}

func TestEthereumAnchor_InvalidConfig(t *testing.T) {
	chain := newSimulatedChain(t)
	client := chain.backend.Client()
	ctx := context.Background()

	testCases := []struct {
		name        string
		cfg         *Config
		expectedErr string
	}{
		{"Nil config", nil, "config cannot be nil"},
		{"Missing contract", &Config{PrivateKey: chain.key}, "contract address cannot be empty"},
		{"Missing key", &Config{ContractAddress: chain.contract}, "private key cannot be empty"},
		{"Malformed key", &Config{ContractAddress: chain.contract, PrivateKey: "0x1234"}, "invalid private key"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEthereumAnchor(ctx, client, tc.cfg, zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestEthereumAnchor_CancelledContext(t *testing.T) {
	chain := newSimulatedChain(t)

	a, err := NewEthereumAnchor(context.Background(), chain.backend.Client(), &Config{
		ContractAddress: chain.contract,
		PrivateKey:      chain.key,
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.PublishRoot(ctx, [32]byte{1})
	require.Error(t, err)
}
