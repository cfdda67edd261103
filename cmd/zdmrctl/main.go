// Command zdmrctl is a thin HTTP client for zdmrd's loopback control
// API (§4.9, §6). Grounded on cmd/warpdl/main.go's urfave/cli App/
// Commands shape, trading the teacher's JSON-RPC client for plain
// net/http calls against the REST surface.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/urfave/cli"

	"github.com/zdmr/zdmr/pkg/zdmr/store"
)

func main() {
	app := cli.App{
		Name:      "zdmrctl",
		Usage:     "control client for the zdmrd download daemon",
		UsageText: "zdmrctl <command> [arguments...]",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "base-url", Value: "", Usage: "control API base URL, defaults to http://127.0.0.1:<local_api_port>"},
			cli.StringFlag{Name: "config-dir", Value: "", Usage: "overrides ZDMR_CONFIG_DIR"},
		},
		Commands: []cli.Command{
			{
				Name:      "add",
				Aliases:   []string{"a"},
				Usage:     "enqueue one or more downloads",
				ArgsUsage: "<url> [url...]",
				Flags: []cli.Flag{
					cli.StringFlag{Name: "dest-dir", Usage: "destination directory"},
				},
				Action: actionAdd,
			},
			{
				Name:      "pause",
				Usage:     "pause a download",
				ArgsUsage: "<id>",
				Action:    actionSimple("pause"),
			},
			{
				Name:      "resume",
				Usage:     "resume a paused download",
				ArgsUsage: "<id>",
				Action:    actionSimple("resume"),
			},
			{
				Name:      "retry",
				Usage:     "retry an errored download",
				ArgsUsage: "<id>",
				Action:    actionSimple("retry"),
			},
			{
				Name:      "rm",
				Aliases:   []string{"delete"},
				Usage:     "cancel and remove a download",
				ArgsUsage: "<id>",
				Action:    actionDelete,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "zdmrctl:", err)
		os.Exit(1)
	}
}

// client resolves the base URL and auth token for this invocation,
// reading the token directly from the store the way the daemon does
// (no separate credential file — §4.1's "it is the only secret in the
// store").
type client struct {
	baseURL string
	token   string
}

func newClient(c *cli.Context) (*client, error) {
	configDir, err := resolveConfigDir(c.GlobalString("config-dir"))
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	db, err := store.Open(ctx, filepath.Join(configDir, "zdmr.sqlite3"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	token, err := db.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("load api token: %w", err)
	}

	baseURL := c.GlobalString("base-url")
	if baseURL == "" {
		port, err := db.GetSetting(ctx, store.KeyLocalAPIPort)
		if err != nil {
			return nil, fmt.Errorf("zdmrd port unknown; pass --base-url (is zdmrd running?)")
		}
		baseURL = fmt.Sprintf("http://127.0.0.1:%s", port)
	}

	return &client{baseURL: baseURL, token: token}, nil
}

func resolveConfigDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if dir := os.Getenv("ZDMR_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "zdmr"), nil
}

func (c *client) do(method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(respBody))
	}
	return respBody, nil
}

func actionAdd(c *cli.Context) error {
	urls := []string(c.Args())
	if len(urls) == 0 {
		return fmt.Errorf("at least one url is required")
	}
	cl, err := newClient(c)
	if err != nil {
		return err
	}
	respBody, err := cl.do(http.MethodPost, "/downloads", map[string]interface{}{
		"urls":     urls,
		"dest_dir": c.String("dest-dir"),
	})
	if err != nil {
		return err
	}
	fmt.Println(string(respBody))
	return nil
}

func actionSimple(verb string) cli.ActionFunc {
	return func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return fmt.Errorf("download id is required")
		}
		cl, err := newClient(c)
		if err != nil {
			return err
		}
		_, err = cl.do(http.MethodPost, "/downloads/"+id+"/"+verb, nil)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", verb, id)
		return nil
	}
}

func actionDelete(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("download id is required")
	}
	cl, err := newClient(c)
	if err != nil {
		return err
	}
	_, err = cl.do(http.MethodDelete, "/downloads/"+id, nil)
	if err != nil {
		return err
	}
	fmt.Printf("deleted: %s\n", id)
	return nil
}
