package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/itbees/mdbctl/internal/config"
)

var apiBaseURL string

const clientTimeout = 10 * time.Second

// resolveAPIBaseURL returns the --api override if set, else derives the
// base URL from the loaded configuration's api.host/api.port.
func resolveAPIBaseURL() (string, error) {
	if apiBaseURL != "" {
		return apiBaseURL, nil
	}

	if err := config.Init(configPath); err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	cfg := config.Get()
	host := cfg.API.Host
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.API.Port), nil
}

// postJSON POSTs body (marshaled as JSON) to base+path and decodes the
// response into out.
func postJSON(base, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: clientTimeout}
	resp, err := client.Post(base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned %s: %s", path, resp.Status, string(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// getJSON GETs base+path and decodes the response into out.
func getJSON(base, path string, out interface{}) error {
	client := &http.Client{Timeout: clientTimeout}
	resp, err := client.Get(base + path)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned %s: %s", path, resp.Status, string(data))
	}
	return json.Unmarshal(data, out)
}
