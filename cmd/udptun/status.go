package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/postalsys/udptun/internal/agent"
	"github.com/postalsys/udptun/internal/relay"
	"github.com/postalsys/udptun/internal/sysinfo"
)

// statusResponse mirrors health.Status with the stats left raw.
type statusResponse struct {
	Status  string          `json:"status"`
	Role    string          `json:"role"`
	Running bool            `json:"running"`
	Node    sysinfo.Info    `json:"node"`
	Stats   json.RawMessage `json:"stats"`
}

func statusCmd() *cobra.Command {
	var (
		address string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running agent or relay",
		Long:  "Query the health endpoint of a running agent or relay and print its state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			st, err := fetchStatus(ctx, address)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "127.0.0.1:8080", "Health endpoint address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")

	return cmd
}

func fetchStatus(ctx context.Context, address string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+address+"/healthz", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach health endpoint: %w", err)
	}
	defer resp.Body.Close()

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("invalid health response (HTTP %d): %w", resp.StatusCode, err)
	}
	return &st, nil
}

func printStatus(w io.Writer, st *statusResponse) error {
	fmt.Fprintf(w, "Role:    %s\n", st.Role)
	fmt.Fprintf(w, "Status:  %s\n", st.Status)
	if st.Node.Version != "" {
		fmt.Fprintf(w, "Version: %s on %s (%s/%s)\n", st.Node.Version, st.Node.Hostname, st.Node.OS, st.Node.Arch)
		fmt.Fprintf(w, "Started: %s\n", humanize.Time(st.Node.StartTime))
	}

	switch st.Role {
	case "agent":
		var s agent.Stats
		if err := json.Unmarshal(st.Stats, &s); err != nil {
			return fmt.Errorf("invalid agent stats: %w", err)
		}
		fmt.Fprintf(w, "Relay:   %s\n", s.Relay)
		if s.LocalAddr != "" {
			fmt.Fprintf(w, "Local:   %s\n", s.LocalAddr)
		}
		fmt.Fprintf(w, "Translations: %s\n", humanize.Comma(int64(s.TranslationEntries)))

	case "relay":
		var s relay.Stats
		if err := json.Unmarshal(st.Stats, &s); err != nil {
			return fmt.Errorf("invalid relay stats: %w", err)
		}
		if s.ListenAddr != "" {
			fmt.Fprintf(w, "Listen:  %s\n", s.ListenAddr)
		}
		fmt.Fprintf(w, "Sessions: %s\n", humanize.Comma(int64(s.ActiveSessions)))
		for _, sess := range s.Sessions {
			fmt.Fprintf(w, "  %-22s via %-22s up %-10s fwd %s ret %s, active %s\n",
				sess.Client,
				sess.LocalAddr,
				humanize.RelTime(sess.CreatedAt, time.Now(), "", ""),
				humanize.Comma(int64(sess.Forwarded)),
				humanize.Comma(int64(sess.Returned)),
				humanize.Time(sess.LastActivity))
		}
	}
	return nil
}
