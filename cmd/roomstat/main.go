// Command roomstat prints the live occupancy of every chat topic known to a
// running SafeChat server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/safechat/internal/membership"
	"github.com/Tyrowin/safechat/internal/server"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var addr, token string
	var timeout time.Duration
	var colours bool

	flagSet := pflag.NewFlagSet("roomstat", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", "http://localhost:8080", "base URL of the SafeChat server")
	flagSet.StringVar(&token, "token", os.Getenv("SAFECHAT_TOKEN"), "bearer token (default: $SAFECHAT_TOKEN)")
	flagSet.DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	flagSet.BoolVar(&colours, "color", true, "highlight full rooms")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if token == "" {
		return fmt.Errorf("a token is required (--token or SAFECHAT_TOKEN)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rooms, err := fetchRooms(ctx, http.DefaultClient, addr, token)
	if err != nil {
		return err
	}
	renderRooms(out, rooms, colours)
	return nil
}

func fetchRooms(ctx context.Context, client *http.Client, addr, token string) ([]membership.TopicStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/api/rooms", http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rooms: unexpected status %s", resp.Status)
	}

	var body server.RoomsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return body.Rooms, nil
}

func renderRooms(out io.Writer, rooms []membership.TopicStats, colours bool) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Topic", "Class", "Members", "Occupancy"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, room := range rooms {
		occupancy := occupancyLabel(room)
		if colours && room.Capacity > membership.Unbounded && room.Count >= room.Capacity {
			occupancy = color.New(color.BgBlack, color.FgRed).Render(occupancy)
		}
		table.Append([]string{room.Topic, room.Class, strings.Join(room.Members, ", "), occupancy})
	}
	table.Render()
}

func occupancyLabel(room membership.TopicStats) string {
	if room.Capacity == membership.Unbounded {
		return strconv.Itoa(room.Count) + "/∞"
	}
	return fmt.Sprintf("%d/%d", room.Count, room.Capacity)
}
