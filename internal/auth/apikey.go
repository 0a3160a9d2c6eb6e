package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeyEntry is one row of the operator API-key table. The key may be stored
// plaintext or as "sha256:<hex>"; configuration decides.
type KeyEntry struct {
	Key      string   `yaml:"key"`
	Identity string   `yaml:"identity"`
	Scopes   []string `yaml:"scopes,omitempty"`
}

// KeyTable validates operator API keys against a configured mapping.
type KeyTable struct {
	entries []KeyEntry
}

// LoadKeyTable reads the YAML key table. An empty path yields an empty table
// (API-key auth disabled).
func LoadKeyTable(path string) (*KeyTable, error) {
	if path == "" {
		return &KeyTable{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read api key table: %w", err)
	}
	var doc struct {
		Keys []KeyEntry `yaml:"keys"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse api key table: %w", err)
	}
	for i, e := range doc.Keys {
		if e.Key == "" || e.Identity == "" {
			return nil, fmt.Errorf("api key table entry %d: key and identity are required", i)
		}
	}
	return &KeyTable{entries: doc.Keys}, nil
}

// NewKeyTable builds a table from entries directly (tests, embedded config).
func NewKeyTable(entries []KeyEntry) *KeyTable {
	return &KeyTable{entries: entries}
}

// Validate checks a presented key and returns the principal, or nil when no
// entry matches. Comparison is constant-time per entry.
func (t *KeyTable) Validate(presented string) *AuthContext {
	if presented == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(presented))
	presentedHash := hex.EncodeToString(sum[:])
	for _, e := range t.entries {
		var match bool
		if h, ok := strings.CutPrefix(e.Key, "sha256:"); ok {
			match = subtle.ConstantTimeCompare([]byte(strings.ToLower(h)), []byte(presentedHash)) == 1
		} else {
			match = subtle.ConstantTimeCompare([]byte(e.Key), []byte(presented)) == 1
		}
		if match {
			return &AuthContext{Identity: e.Identity, Method: MethodAPIKey, Permissions: e.Scopes}
		}
	}
	return nil
}

// Empty reports whether the table has no entries.
func (t *KeyTable) Empty() bool { return len(t.entries) == 0 }
