// Package mockclient is the first-class mock upstream mode selected
// whenever CSP_API_TOKEN is empty (§9 design notes: "not a test hook").
// It returns a fixed fixture list loaded once at construction, parsed with
// gopkg.in/yaml.v3 the same way the teacher's CLI parses its apply
// manifests.
package mockclient

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/sandboxbroker/pkg/upstream"
)

//go:embed fixture.yaml
var fixtureYAML []byte

type fixture struct {
	Accounts []struct {
		ExternalID string `yaml:"external_id"`
		Name       string `yaml:"name"`
		State      string `yaml:"state"`
	} `yaml:"accounts"`
}

// Client is the mock upstream.Client.
type Client struct {
	accounts []upstream.Account
}

// New parses the embedded fixture once and returns a Client serving it.
func New() (*Client, error) {
	var f fixture
	if err := yaml.Unmarshal(fixtureYAML, &f); err != nil {
		return nil, fmt.Errorf("parse mock upstream fixture: %w", err)
	}

	accounts := make([]upstream.Account, 0, len(f.Accounts))
	for _, a := range f.Accounts {
		accounts = append(accounts, upstream.Account{
			ExternalID: a.ExternalID,
			Name:       a.Name,
			State:      a.State,
		})
	}
	return &Client{accounts: accounts}, nil
}

func (c *Client) List(_ context.Context) ([]upstream.Account, error) {
	out := make([]upstream.Account, len(c.accounts))
	copy(out, c.accounts)
	return out, nil
}
