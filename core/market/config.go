package market

import "fmt"

// Config defines tariff market parameters loaded from configuration.
type Config struct {
	// PublicationInterval is the number of periods between publication
	// batches, at most 24.
	PublicationInterval int `json:"publication_interval"`
	// PublicationOffset selects which period inside the interval publishes.
	PublicationOffset int `json:"publication_offset"`

	// PublicationFee is charged to the broker on publish. Zero means a
	// random fee is drawn in [MinPublicationFee, MaxPublicationFee].
	PublicationFee    float64 `json:"publication_fee"`
	MinPublicationFee float64 `json:"min_publication_fee"`
	MaxPublicationFee float64 `json:"max_publication_fee"`

	// RevocationFee is charged when a revoked tariff still has committed
	// subscribers.
	RevocationFee float64 `json:"revocation_fee"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PublicationInterval == 0 {
		c.PublicationInterval = 6
	}
	if c.MinPublicationFee == 0 && c.MaxPublicationFee == 0 {
		c.MinPublicationFee = -500
		c.MaxPublicationFee = -100
	}
	if c.RevocationFee == 0 {
		c.RevocationFee = -150
	}
}

// Validate checks the publication schedule and fee bounds.
func (c Config) Validate() error {
	if c.PublicationInterval < 1 || c.PublicationInterval > 24 {
		return fmt.Errorf("market: publication_interval must be in [1,24]")
	}
	if c.PublicationOffset < 0 || c.PublicationOffset >= c.PublicationInterval {
		return fmt.Errorf("market: publication_offset must be in [0,%d)", c.PublicationInterval)
	}
	if c.PublicationFee > 0 {
		return fmt.Errorf("market: publication_fee must be <= 0")
	}
	if c.MinPublicationFee > c.MaxPublicationFee {
		return fmt.Errorf("market: min_publication_fee must be <= max_publication_fee")
	}
	if c.RevocationFee > 0 {
		return fmt.Errorf("market: revocation_fee must be <= 0")
	}
	return nil
}
