package dto

import "time"

type OfferInfo struct {
	ID          string
	Name        string
	Description string
	Version     string
	PeerIDs     []string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

type InstalledInfo struct {
	ID                   string
	Name                 string
	Description          string
	Version              string
	Enabled              bool
	PeerIDs              []string
	LastSuccessfulPeerID string
	InstalledAt          time.Time
	Commands             []CommandInfo
}

type CommandInfo struct {
	Name        string
	Syntax      string
	Description string
}

type ExecuteInput struct {
	ExtensionID string
	Command     string
	Args        []string
}

type ExecuteOutput struct {
	ExtensionID string
	Command     string
	PeerID      string
	Data        string
}

type PublishedInfo struct {
	ID       string
	Name     string
	Version  string
	Binary   string
	Commands int
}

type NodeStatus struct {
	PeerID      string
	ListenAddrs []string
	Offers      int
	Installed   int
	Published   int
}
