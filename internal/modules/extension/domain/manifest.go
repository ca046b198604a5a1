package domain

import (
	"fmt"
)

// CommandSpec describes one command an extension serves.
type CommandSpec struct {
	Name        string `json:"name" cbor:"name"`
	Syntax      string `json:"syntax" cbor:"syntax"`
	Description string `json:"description" cbor:"description"`
}

// Manifest is the immutable identity and capability description of an
// extension, as received from the publishing peer. It is never re-fetched
// after install; the installed snapshot stays authoritative.
type Manifest struct {
	ID          string        `json:"id" cbor:"id"`
	Name        string        `json:"name" cbor:"name"`
	Description string        `json:"description" cbor:"description"`
	Icon        string        `json:"icon" cbor:"icon"`
	PublicURL   string        `json:"publicUrl" cbor:"publicUrl"`
	Version     string        `json:"version" cbor:"version"`
	Author      *string       `json:"author,omitempty" cbor:"author,omitempty"`
	Commands    []CommandSpec `json:"commands" cbor:"commands"`
}

// ManifestError reports which manifest field failed validation and why.
type ManifestError struct {
	Field  string
	Reason string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("invalid manifest field %q: %s", e.Field, e.Reason)
}

// Validate checks the manifest shape. It returns a *ManifestError naming the
// offending field, or nil. Commands may be empty; command names must be
// unique within the manifest.
func (m Manifest) Validate() error {
	if m.ID == "" {
		return &ManifestError{Field: "id", Reason: "must be a non-empty string"}
	}
	if m.Name == "" {
		return &ManifestError{Field: "name", Reason: "must be a non-empty string"}
	}
	if m.Version == "" {
		return &ManifestError{Field: "version", Reason: "must be a non-empty string"}
	}
	seen := map[string]struct{}{}
	for i, command := range m.Commands {
		field := fmt.Sprintf("commands[%d].name", i)
		if command.Name == "" {
			return &ManifestError{Field: field, Reason: "must be a non-empty string"}
		}
		if _, ok := seen[command.Name]; ok {
			return &ManifestError{Field: field, Reason: fmt.Sprintf("duplicate command name %q", command.Name)}
		}
		seen[command.Name] = struct{}{}
	}
	return nil
}

// HasCommand reports whether the manifest declares the named command.
func (m Manifest) HasCommand(name string) bool {
	for _, command := range m.Commands {
		if command.Name == name {
			return true
		}
	}
	return false
}

// EffectiveVersion returns the manifest version, or the protocol default when
// the publisher omitted one.
func (m Manifest) EffectiveVersion() string {
	if m.Version == "" {
		return DefaultVersion
	}
	return m.Version
}
