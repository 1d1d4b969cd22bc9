package streams

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
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Client is the external data-stream service.
type Client interface {
	SchemaID() common.Hash
	Publisher() common.Address
	GetAllPublisherDataForSchema(ctx context.Context) ([][]byte, error)
	Set(ctx context.Context, entries []Entry) (common.Hash, error)
}

const streamsABIJSON = `[
  {
    "inputs": [
      {
        "components": [
          {"internalType": "bytes32", "name": "id", "type": "bytes32"},
          {"internalType": "bytes32", "name": "schemaId", "type": "bytes32"},
          {"internalType": "bytes", "name": "data", "type": "bytes"}
        ],
        "internalType": "struct DataStream[]",
        "name": "dataStreams",
        "type": "tuple[]"
      }
    ],
    "name": "esstores",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "schemaId", "type": "bytes32"},
      {"internalType": "address", "name": "publisher", "type": "address"}
    ],
    "name": "getAllPublisherDataForSchema",
    "outputs": [{"internalType": "bytes[]", "name": "", "type": "bytes[]"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "schemaId", "type": "bytes32"},
      {"internalType": "address", "name": "publisher", "type": "address"}
    ],
    "name": "totalPublisherDataForSchema",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	streamsABI     abi.ABI
	streamsABIOnce sync.Once
	streamsABIErr  error
)

// StreamsABI returns the parsed streams contract ABI.
func StreamsABI() (abi.ABI, error) {
	streamsABIOnce.Do(func() {
		streamsABI, streamsABIErr = abi.JSON(strings.NewReader(streamsABIJSON))
	})
	return streamsABI, streamsABIErr
}

// Backend is what the contract client needs from the chain connection.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// ContractConfig configures a ContractClient.
type ContractConfig struct {
	Address   common.Address
	Publisher common.Address
	SchemaID  common.Hash
	// PrivateKey is the hex publisher key. Reads work without it.
	PrivateKey string
	ChainID    *big.Int
	// WaitMined blocks Set until the transaction is included.
	WaitMined bool
}

// ContractClient talks to the streams contract through go-ethereum bindings.
type ContractClient struct {
	backend   Backend
	contract  *bind.BoundContract
	publisher common.Address
	schemaID  common.Hash
	key       *ecdsa.PrivateKey
	chainID   *big.Int
	waitMined bool
	logger    *zap.Logger
}

// dataStream mirrors the contract's DataStream tuple.
type dataStream struct {
	Id       [32]byte
	SchemaId [32]byte
	Data     []byte
}

// NewContractClient builds a client for the streams contract.
func NewContractClient(backend Backend, cfg ContractConfig, logger *zap.Logger) (*ContractClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == nil {
		return nil, fmt.Errorf("streams backend is required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("streams address is required")
	}
	parsed, err := StreamsABI()
	if err != nil {
		return nil, fmt.Errorf("parse streams abi: %w", err)
	}

	schemaID := cfg.SchemaID
	if schemaID == (common.Hash{}) {
		schemaID = ComputeSchemaID(RoundEndedSchema)
	}

	client := &ContractClient{
		backend:   backend,
		contract:  bind.NewBoundContract(cfg.Address, parsed, backend, backend, backend),
		publisher: cfg.Publisher,
		schemaID:  schemaID,
		chainID:   cfg.ChainID,
		waitMined: cfg.WaitMined,
		logger:    logger,
	}

	if key := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"); key != "" {
		pk, err := crypto.HexToECDSA(key)
		if err != nil {
			return nil, fmt.Errorf("parse publisher key: %w", err)
		}
		client.key = pk
		derived := crypto.PubkeyToAddress(pk.PublicKey)
		if client.publisher == (common.Address{}) {
			client.publisher = derived
		} else if client.publisher != derived {
			logger.Warn("publisher address differs from key address",
				zap.String("publisher", client.publisher.Hex()),
				zap.String("key_address", derived.Hex()),
			)
		}
	}
	if client.publisher == (common.Address{}) {
		return nil, fmt.Errorf("publisher address is required")
	}

	return client, nil
}

// SchemaID returns the schema id entries are read and written under.
func (c *ContractClient) SchemaID() common.Hash { return c.schemaID }

// Publisher returns the publisher whose entries are read.
func (c *ContractClient) Publisher() common.Address { return c.publisher }

// CanWrite reports whether a publisher key was configured.
func (c *ContractClient) CanWrite() bool { return c.key != nil }

// GetAllPublisherDataForSchema returns every encoded entry of the publisher.
func (c *ContractClient) GetAllPublisherDataForSchema(ctx context.Context) ([][]byte, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAllPublisherDataForSchema", c.schemaID, c.publisher); err != nil {
		return nil, fmt.Errorf("get publisher data: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected publisher data outputs: %d", len(out))
	}
	data, ok := out[0].([][]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected publisher data type %T", out[0])
	}
	return data, nil
}

// Set writes entries in one transaction and returns its hash.
func (c *ContractClient) Set(ctx context.Context, entries []Entry) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("publisher key is required for writes")
	}
	if len(entries) == 0 {
		return common.Hash{}, fmt.Errorf("no entries to write")
	}

	chainID := c.chainID
	if chainID == nil {
		id, err := c.backend.ChainID(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("chain id: %w", err)
		}
		chainID = id
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx

	payload := make([]dataStream, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, dataStream{Id: entry.ID, SchemaId: entry.SchemaID, Data: entry.Data})
	}

	tx, err := c.contract.Transact(opts, "esstores", payload)
	if err != nil {
		return common.Hash{}, fmt.Errorf("esstores: %w", err)
	}
	c.logger.Info("stream entries submitted",
		zap.Int("entries", len(entries)),
		zap.String("tx_hash", tx.Hash().Hex()),
	)

	if c.waitMined {
		receipt, err := bind.WaitMined(ctx, c.backend, tx)
		if err != nil {
			return tx.Hash(), fmt.Errorf("wait mined: %w", err)
		}
		if receipt.Status == 0 {
			return tx.Hash(), fmt.Errorf("stream write reverted: %s", tx.Hash().Hex())
		}
	}
	return tx.Hash(), nil
}
