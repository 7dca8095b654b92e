package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/reservewatch/reservewatch-go/pkg/crypto"
)

// Environment variable names for reserve server configuration
const (
	EnvReservePort               = "RESERVE_PORT"
	EnvReserveHashAlgorithm      = "RESERVE_HASH_ALGORITHM"
	EnvReservePersistenceType    = "RESERVE_PERSISTENCE_TYPE"
	EnvReserveDataDir            = "RESERVE_DATA_DIR"
	EnvReserveRedisAddress       = "RESERVE_REDIS_ADDRESS"
	EnvReserveRedisPassword      = "RESERVE_REDIS_PASSWORD"
	EnvReserveRedisDB            = "RESERVE_REDIS_DB"
	EnvReserveRedisKeyPrefix     = "RESERVE_REDIS_KEY_PREFIX"
	EnvReserveAnchorType         = "RESERVE_ANCHOR_TYPE"
	EnvReserveAnchorLogPath      = "RESERVE_ANCHOR_LOG"
	EnvReserveRPCURL             = "RESERVE_RPC_URL"
	EnvReserveChainID            = "RESERVE_CHAIN_ID"
	EnvReserveAnchorContract     = "RESERVE_ANCHOR_CONTRACT"
	EnvReserveAnchorPrivateKey   = "RESERVE_ANCHOR_PRIVATE_KEY"
	EnvReserveRateLimit          = "RESERVE_RATE_LIMIT"
	EnvReserveRateBurst          = "RESERVE_RATE_BURST"
	EnvReserveScoringConfig      = "RESERVE_SCORING_CONFIG"
	EnvReserveScoringConcurrency = "RESERVE_SCORING_CONCURRENCY"
	EnvReservePublishTimeout     = "RESERVE_PUBLISH_TIMEOUT"
	EnvReserveVerbose            = "RESERVE_VERBOSE"
)

type PersistenceType string

func (p PersistenceType) String() string {
	return string(p)
}

const (
	PersistenceTypeMemory PersistenceType = "memory"
	PersistenceTypeBadger PersistenceType = "badger"
	PersistenceTypeRedis  PersistenceType = "redis"
)

type AnchorType string

func (a AnchorType) String() string {
	return string(a)
}

const (
	AnchorTypeNone     AnchorType = "none"
	AnchorTypeLocal    AnchorType = "local"
	AnchorTypeEthereum AnchorType = "ethereum"
)

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_EthereumMainnet: ChainId_EthereumMainnet,
	ChainName_EthereumSepolia: ChainId_EthereumSepolia,
	ChainName_EthereumAnvil:   ChainId_EthereumAnvil,
}

// Defaults applied by the CLI when a flag is not set
const (
	DefaultPort        = 8080
	DefaultDataDir     = "./data"
	DefaultRateLimit   = 50.0
	DefaultRateBurst   = 100
	DefaultRedisDB     = 0
	DefaultAnchorLog   = "./data/anchor.log"
	DefaultRpcUrl      = "http://localhost:8545"
	DefaultPersistence = PersistenceTypeBadger
	DefaultAnchor      = AnchorTypeLocal

	DefaultPublishTimeout = 5 * time.Minute
)

// RedisSettings are the connection details used when PersistenceType is redis
type RedisSettings struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

// EthereumAnchorSettings are the chain details used when AnchorType is ethereum
type EthereumAnchorSettings struct {
	RpcUrl          string  `json:"rpcUrl" yaml:"rpcUrl"`
	ChainID         ChainId `json:"chainId" yaml:"chainId"`
	ContractAddress string  `json:"contractAddress" yaml:"contractAddress"`
	PrivateKey      string  `json:"privateKey" yaml:"privateKey"` // hex secp256k1 key that signs updateRoot
}

// ServerConfig represents the complete configuration for a reserve server
type ServerConfig struct {
	Port int `json:"port" yaml:"port"`

	// Commitment settings
	HashAlgorithm crypto.HashAlgorithm `json:"hashAlgorithm" yaml:"hashAlgorithm"`

	// Storage
	PersistenceType PersistenceType `json:"persistenceType" yaml:"persistenceType"`
	DataDir         string          `json:"dataDir" yaml:"dataDir"`
	Redis           RedisSettings   `json:"redis" yaml:"redis"`

	// Root anchoring
	AnchorType    AnchorType             `json:"anchorType" yaml:"anchorType"`
	AnchorLogPath string                 `json:"anchorLogPath" yaml:"anchorLogPath"`
	Ethereum      EthereumAnchorSettings `json:"ethereum" yaml:"ethereum"`
	// PublishTimeout bounds one root publication, receipt wait included
	PublishTimeout time.Duration `json:"publishTimeout" yaml:"publishTimeout"`

	// API rate limiting, in requests per second
	RateLimit float64 `json:"rateLimit" yaml:"rateLimit"`
	RateBurst int     `json:"rateBurst" yaml:"rateBurst"`

	// Scoring policy file; defaults apply when empty
	ScoringConfigPath  string `json:"scoringConfigPath" yaml:"scoringConfigPath"`
	ScoringConcurrency int    `json:"scoringConcurrency" yaml:"scoringConcurrency"`

	// Operational settings
	Debug   bool `json:"debug" yaml:"debug"`
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Populated by Validate when anchoring to ethereum
	ChainName ChainName `json:"chainName,omitempty" yaml:"chainName,omitempty"`
}

// Validate validates the reserve server configuration and reports every problem at once
func (c *ServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}

	if _, err := crypto.NewHasher(c.HashAlgorithm); err != nil {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("hashAlgorithm"), c.HashAlgorithm, hashAlgorithmNames()))
	}

	switch c.PersistenceType {
	case PersistenceTypeMemory:
	case PersistenceTypeBadger:
		if c.DataDir == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("dataDir"), "dataDir is required for badger persistence"))
		}
	case PersistenceTypeRedis:
		if c.Redis.Address == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redis", "address"), "address is required for redis persistence"))
		}
		if c.Redis.DB < 0 || c.Redis.DB > 15 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redis", "db"), c.Redis.DB, "must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("persistenceType"), c.PersistenceType, []string{
			PersistenceTypeMemory.String(), PersistenceTypeBadger.String(), PersistenceTypeRedis.String(),
		}))
	}

	switch c.AnchorType {
	case AnchorTypeNone:
	case AnchorTypeLocal:
		if c.AnchorLogPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("anchorLogPath"), "anchorLogPath is required for local anchoring"))
		}
	case AnchorTypeEthereum:
		ethErrors := c.Ethereum.validate(field.NewPath("ethereum"))
		if len(ethErrors) == 0 {
			c.ChainName = ChainIdToName[c.Ethereum.ChainID]
		}
		allErrors = append(allErrors, ethErrors...)
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("anchorType"), c.AnchorType, []string{
			AnchorTypeNone.String(), AnchorTypeLocal.String(), AnchorTypeEthereum.String(),
		}))
	}

	if c.PublishTimeout < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("publishTimeout"), c.PublishTimeout.String(), "must not be negative"))
	}

	if c.RateLimit < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit"), c.RateLimit, "must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateBurst"), c.RateBurst, "must be at least 1 when rateLimit is set"))
	}
	if c.ScoringConcurrency < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("scoringConcurrency"), c.ScoringConcurrency, "must not be negative"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

func (e *EthereumAnchorSettings) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList

	if e.RpcUrl == "" {
		allErrors = append(allErrors, field.Required(path.Child("rpcUrl"), "rpcUrl is required for ethereum anchoring"))
	}
	if _, ok := ChainIdToName[e.ChainID]; !ok {
		allErrors = append(allErrors, field.Invalid(path.Child("chainId"), e.ChainID,
			fmt.Sprintf("unsupported chain ID. Supported: %s", GetSupportedChainIDsString())))
	}
	if !common.IsHexAddress(e.ContractAddress) {
		allErrors = append(allErrors, field.Invalid(path.Child("contractAddress"), e.ContractAddress, "invalid contract address format"))
	}

	key := e.PrivateKey
	if !strings.HasPrefix(key, "0x") {
		key = "0x" + key
	}
	if len(key) != 66 { // 0x + 64 hex chars
		allErrors = append(allErrors, field.Invalid(path.Child("privateKey"), "<redacted>",
			fmt.Sprintf("must be 32 bytes (64 hex chars), got %d chars", len(key)-2)))
	}

	return allErrors
}

func hashAlgorithmNames() []string {
	algorithms := crypto.SupportedHashAlgorithms()
	names := make([]string, len(algorithms))
	for i, a := range algorithms {
		names[i] = a.String()
	}
	return names
}

// GetSupportedChainIDs returns all supported chain IDs
func GetSupportedChainIDs() []ChainId {
	return []ChainId{
		ChainId_EthereumMainnet,
		ChainId_EthereumSepolia,
		ChainId_EthereumAnvil,
	}
}

// GetSupportedChainIDsString returns supported chain IDs as strings for CLI help
func GetSupportedChainIDsString() string {
	return fmt.Sprintf("%d (mainnet), %d (sepolia), %d (anvil)",
		ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil)
}
