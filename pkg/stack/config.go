package stack

import (
	"os"

	"github.com/backkem/ember/pkg/buffer"
	"github.com/backkem/ember/pkg/mac"
	"github.com/backkem/ember/pkg/phy"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults applied to a loaded configuration.
const (
	DefaultHeapSize          = 8192
	DefaultReservedBytes     = 1024
	DefaultReclaimIntervalMs = 1000
)

// Config is the file configuration of one node.
type Config struct {
	Heap HeapConfig `yaml:"heap"`

	// ReclaimIntervalMs is the period of heap compaction.
	ReclaimIntervalMs uint32 `yaml:"reclaim_interval_ms"`

	// PollIntervalMs makes every network with a parent poll it
	// periodically. Zero disables automatic polling.
	PollIntervalMs uint32 `yaml:"poll_interval_ms"`

	// IndirectTimeoutMs and PollRxTimeoutMs override the MAC defaults when
	// non-zero.
	IndirectTimeoutMs uint32 `yaml:"indirect_timeout_ms"`
	PollRxTimeoutMs   uint32 `yaml:"poll_rx_timeout_ms"`

	Networks []NetworkConfig `yaml:"networks"`
}

// HeapConfig sizes the packet heap.
type HeapConfig struct {
	SizeBytes int `yaml:"size_bytes"`

	// ReservedBytes is the partition that allocations from the radio
	// goroutine are confined to. Unset means DefaultReservedBytes; an
	// explicit 0 disables the reservation and lets both sides share the
	// whole heap.
	ReservedBytes *int `yaml:"reserved_bytes"`
}

func (h HeapConfig) reserved() int {
	if h.ReservedBytes == nil {
		return 0
	}
	return *h.ReservedBytes
}

// NetworkConfig describes one network of a MAC index. Networks sharing a
// MAC index are numbered in file order.
type NetworkConfig struct {
	MACIndex uint8  `yaml:"mac_index"`
	Channel  uint8  `yaml:"channel"`
	TxPower  int8   `yaml:"tx_power"`
	PANID    uint16 `yaml:"pan_id"`
	NodeID   uint16 `yaml:"node_id"`
	EUI64    uint64 `yaml:"eui64"`

	// RxOnWhenIdle defaults to true for a node without a parent and false
	// otherwise.
	RxOnWhenIdle *bool `yaml:"rx_on_when_idle"`

	Parent   *ParentConfig `yaml:"parent"`
	CSMA     *CSMAConfig   `yaml:"csma"`
	Children []ChildConfig `yaml:"children"`
}

// ParentConfig identifies the parent a sleepy node polls.
type ParentConfig struct {
	NodeID uint16 `yaml:"node_id"`
	EUI64  uint64 `yaml:"eui64"`
}

// CSMAConfig overrides channel access parameters. Zero fields keep the
// IEEE 802.15.4 defaults.
type CSMAConfig struct {
	MinBackoffExponent uint8  `yaml:"min_backoff_exponent"`
	MaxBackoffExponent uint8  `yaml:"max_backoff_exponent"`
	CCAAttemptMax      uint8  `yaml:"cca_attempt_max"`
	MaxFrameRetries    uint8  `yaml:"max_frame_retries"`
	MinimumBackoff     uint8  `yaml:"minimum_backoff"`
	BackoffUnitMs      uint32 `yaml:"backoff_unit_ms"`
}

// ChildConfig is a child known at startup.
type ChildConfig struct {
	ShortID      uint16 `yaml:"short_id"`
	LongID       uint64 `yaml:"long_id"`
	RxOnWhenIdle bool   `yaml:"rx_on_when_idle"`
}

// LoadConfig reads, defaults and validates a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig decodes, defaults and validates a YAML configuration.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Heap.SizeBytes == 0 {
		c.Heap.SizeBytes = DefaultHeapSize
	}
	if c.Heap.ReservedBytes == nil {
		reserved := DefaultReservedBytes
		c.Heap.ReservedBytes = &reserved
	}
	if c.ReclaimIntervalMs == 0 {
		c.ReclaimIntervalMs = DefaultReclaimIntervalMs
	}
	for i := range c.Networks {
		n := &c.Networks[i]
		if n.RxOnWhenIdle == nil {
			on := n.Parent == nil
			n.RxOnWhenIdle = &on
		}
	}
}

// Validate checks the configuration. It does not modify it.
func (c *Config) Validate() error {
	if c.Heap.SizeBytes < 1024 || c.Heap.SizeBytes > buffer.MaxHeapWords*buffer.WordSize {
		return errors.Wrapf(ErrInvalidConfig, "heap size %d out of range", c.Heap.SizeBytes)
	}
	if r := c.Heap.reserved(); r < 0 || r >= c.Heap.SizeBytes/2 {
		return errors.Wrapf(ErrInvalidConfig, "reserved bytes %d out of range", r)
	}
	if len(c.Networks) == 0 {
		return errors.Wrap(ErrInvalidConfig, "no networks")
	}

	perMAC := make(map[uint8]int)
	for i, n := range c.Networks {
		if int(n.MACIndex) >= mac.MaxMACs {
			return errors.Wrapf(ErrInvalidConfig, "network %d: mac index %d out of range", i, n.MACIndex)
		}
		perMAC[n.MACIndex]++
		if perMAC[n.MACIndex] > mac.MaxNetworksPerMAC {
			return errors.Wrapf(ErrInvalidConfig, "network %d: more than %d networks on mac %d", i, mac.MaxNetworksPerMAC, n.MACIndex)
		}
		if n.Channel < phy.MinChannel || n.Channel > phy.MaxChannel {
			return errors.Wrapf(ErrInvalidConfig, "network %d: channel %d out of range", i, n.Channel)
		}
		if n.PANID == 0xFFFF {
			return errors.Wrapf(ErrInvalidConfig, "network %d: broadcast PAN ID", i)
		}
		if n.NodeID >= 0xFFF8 {
			return errors.Wrapf(ErrInvalidConfig, "network %d: node ID 0x%04X is not unicast", i, n.NodeID)
		}
		if n.CSMA != nil {
			if err := n.csmaParams().Validate(); err != nil {
				return errors.Wrapf(ErrInvalidConfig, "network %d: %v", i, err)
			}
		}
		if n.Parent != nil && n.Parent.NodeID == n.NodeID {
			return errors.Wrapf(ErrInvalidConfig, "network %d: node is its own parent", i)
		}
		seen := make(map[uint16]bool)
		for j, ch := range n.Children {
			if ch.ShortID >= 0xFFF8 {
				return errors.Wrapf(ErrInvalidConfig, "network %d child %d: short ID 0x%04X is not unicast", i, j, ch.ShortID)
			}
			if seen[ch.ShortID] {
				return errors.Wrapf(ErrInvalidConfig, "network %d child %d: duplicate short ID 0x%04X", i, j, ch.ShortID)
			}
			seen[ch.ShortID] = true
		}
	}
	for idx := range perMAC {
		if idx > 0 && perMAC[idx-1] == 0 {
			return errors.Wrapf(ErrInvalidConfig, "mac index %d used without mac %d", idx, idx-1)
		}
	}
	if c.PollIntervalMs > 0 && c.PollIntervalMs < 10 {
		return errors.Wrapf(ErrInvalidConfig, "poll interval %dms too short", c.PollIntervalMs)
	}
	return nil
}

// MACCount returns the number of radios the configuration needs.
func (c *Config) MACCount() int {
	count := 0
	for _, n := range c.Networks {
		if int(n.MACIndex)+1 > count {
			count = int(n.MACIndex) + 1
		}
	}
	return count
}

// networksPerMAC returns the largest number of networks on one MAC index.
func (c *Config) networksPerMAC() int {
	perMAC := make(map[uint8]int)
	most := 0
	for _, n := range c.Networks {
		perMAC[n.MACIndex]++
		if perMAC[n.MACIndex] > most {
			most = perMAC[n.MACIndex]
		}
	}
	return most
}

func (n *NetworkConfig) csmaParams() mac.CSMAParams {
	if n.CSMA == nil {
		return mac.CSMAParams{}
	}
	p := mac.DefaultCSMAParams()
	if n.CSMA.MinBackoffExponent != 0 {
		p.MinBackoffExponent = n.CSMA.MinBackoffExponent
	}
	if n.CSMA.MaxBackoffExponent != 0 {
		p.MaxBackoffExponent = n.CSMA.MaxBackoffExponent
	}
	if n.CSMA.CCAAttemptMax != 0 {
		p.CCAAttemptMax = n.CSMA.CCAAttemptMax
	}
	if n.CSMA.MaxFrameRetries != 0 {
		p.MaxFrameRetries = n.CSMA.MaxFrameRetries
	}
	if n.CSMA.BackoffUnitMs != 0 {
		p.BackoffUnitMs = n.CSMA.BackoffUnitMs
	}
	p.MinimumBackoff = n.CSMA.MinimumBackoff
	return p
}

// radioParameters converts the network to MAC radio parameters.
func (n *NetworkConfig) radioParameters(handler mac.NetworkHandler) mac.RadioParameters {
	params := mac.RadioParameters{
		Channel:      n.Channel,
		TxPower:      n.TxPower,
		PANID:        n.PANID,
		NodeID:       n.NodeID,
		EUI64:        n.EUI64,
		RxOnWhenIdle: n.RxOnWhenIdle != nil && *n.RxOnWhenIdle,
		CSMA:         n.csmaParams(),
		Handler:      handler,
	}
	if n.Parent != nil {
		params.Parent = &mac.ParentInfo{NodeID: n.Parent.NodeID, EUI64: n.Parent.EUI64}
	}
	return params
}
