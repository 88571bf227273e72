package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/copycat/copycat/pkg/raft"
)

// nodeStatus is the JSON body served at /status and printed by the status
// subcommand, mirroring the fields a cluster operator needs to eyeball
// quickly: which term this member believes is current, who it thinks the
// leader is, and how far its log has committed and applied.
type nodeStatus struct {
	Term         uint64 `json:"term"`
	Leader       uint32 `json:"leader"`
	HasLeader    bool   `json:"hasLeader"`
	CommitIndex  uint64 `json:"commitIndex"`
	LastApplied  uint64 `json:"lastApplied"`
	SegmentCount int    `json:"segmentCount"`
}

func statusHandler(node *raft.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term, leader, hasLeader := node.Status()
		st := nodeStatus{
			Term:         term,
			Leader:       leader,
			HasLeader:    hasLeader,
			CommitIndex:  node.CommitIndex(),
			LastApplied:  node.LastApplied(),
			SegmentCount: node.SegmentCount(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}

var statusTargetAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running node's status over its metrics HTTP server",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusTargetAddr, "addr", "http://127.0.0.1:9090", "Base URL of the target node's metrics server")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(statusTargetAddr + "/status")
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	defer resp.Body.Close()

	var st nodeStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("status: decode response: %w", err)
	}

	fmt.Printf("term:          %d\n", st.Term)
	if st.HasLeader {
		fmt.Printf("leader:        %d\n", st.Leader)
	} else {
		fmt.Printf("leader:        (none)\n")
	}
	fmt.Printf("commitIndex:   %d\n", st.CommitIndex)
	fmt.Printf("lastApplied:   %d\n", st.LastApplied)
	fmt.Printf("segmentCount:  %d\n", st.SegmentCount)
	return nil
}
