package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type roomRow struct {
	ID          string `json:"id"`
	MemberCount int    `json:"member_count"`
}

type memberRow struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Online      bool      `json:"online"`
	JoinedAt    time.Time `json:"joinedAt"`
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List active rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		var rooms []roomRow
		if err := getJSON(cmd.Context(), cfg.Server, "/api/rooms", &rooms); err != nil {
			return err
		}
		renderRooms(cmd.OutOrStdout(), rooms)
		return nil
	},
}

var membersCmd = &cobra.Command{
	Use:   "members <room>",
	Short: "List the members of a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		var members []memberRow
		path := "/api/rooms/" + url.PathEscape(args[0]) + "/members"
		if err := getJSON(cmd.Context(), cfg.Server, path, &members); err != nil {
			return err
		}
		renderMembers(cmd.OutOrStdout(), members)
		return nil
	},
}

func getJSON(ctx context.Context, server, path string, v any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
		if body.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, body.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func renderRooms(w io.Writer, rooms []roomRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Room", "Members"})
	for _, r := range rooms {
		t.AppendRow(table.Row{r.ID, r.MemberCount})
	}
	t.AppendFooter(table.Row{"Total", len(rooms)})
	t.Render()
}

func renderMembers(w io.Writer, members []memberRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"User", "Name", "Online", "Joined"})
	for _, m := range members {
		online := "no"
		if m.Online {
			online = "yes"
		}
		t.AppendRow(table.Row{m.UserID, m.DisplayName, online, m.JoinedAt.Local().Format(time.TimeOnly)})
	}
	t.Render()
}
