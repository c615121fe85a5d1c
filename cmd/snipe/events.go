package main

import (
	"log"
	"time"

	"fleetsnipe/internal/jsonl"
)

// One JSONL record per pipeline milestone, so a run can be reconstructed
// after the fact. Every record carries the run id and a type discriminator.

type baseEvent struct {
	Type  string    `json:"type"`
	RunID string    `json:"run_id"`
	Time  time.Time `json:"time"`
}

func eventBase(typ, runID string) baseEvent {
	return baseEvent{Type: typ, RunID: runID, Time: time.Now().UTC()}
}

type runStartEvent struct {
	baseEvent
	ChainID      string `json:"chain_id"`
	Funder       string `json:"funder"`
	FleetSize    int    `json:"fleet_size"`
	Seed         uint64 `json:"seed"`
	TotalCapital string `json:"total_capital"`
	DryRun       bool   `json:"dry_run"`
}

type planEvent struct {
	baseEvent
	Seed    uint64   `json:"seed"`
	Total   string   `json:"total"`
	Amounts []string `json:"amounts"`
}

type fundingEvent struct {
	baseEvent
	GasTopUps     int `json:"gas_topups"`
	CapitalTopUps int `json:"capital_topups"`
	Skips         int `json:"skips"`
	Approvals     int `json:"approvals"`
	ApprovalSkips int `json:"approval_skips"`
	ApprovalFails int `json:"approval_fails"`
}

type watchReadyEvent struct {
	baseEvent
	Pool      string `json:"pool"`
	Witness   string `json:"witness"`
	Polls     int    `json:"polls"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type swapEvent struct {
	baseEvent
	Account   uint32 `json:"account"`
	Address   string `json:"address"`
	AmountIn  string `json:"amount_in"`
	Submitted bool   `json:"submitted"`
	TxHash    string `json:"tx_hash,omitempty"`
	Confirmed bool   `json:"confirmed"`
	Error     string `json:"error,omitempty"`
}

type runDoneEvent struct {
	baseEvent
	Submitted     int    `json:"submitted"`
	Confirmed     int    `json:"confirmed"`
	TotalAcquired string `json:"total_acquired"`
	ReadFails     int    `json:"read_fails"`
}

func emit(w *jsonl.Writer, v any) {
	if err := w.Write(v); err != nil {
		log.Printf("[warn] event log write failed: %v", err)
	}
}
