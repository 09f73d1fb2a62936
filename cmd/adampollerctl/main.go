// Command adampollerctl is a thin client for the operational CLI surface:
// it drives a running adampollerd's monitoring HTTP API rather than
// the service directly, the same way the monitoring dashboard's own
// JavaScript drives it.
//
// Exit codes: 0 success, 2 invalid usage/config, 3 request failure.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

func main() {
	addr := flag.String("addr", "http://localhost:8090", "Base URL of the adampollerd monitoring server")
	user := flag.String("user", "", "Basic auth username")
	pass := flag.String("pass", "", "Basic auth password")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	c := &client{addr: *addr, user: *user, pass: *pass}

	var err error
	switch args[0] {
	case "health":
		var id string
		if len(args) > 1 {
			id = args[1]
		}
		err = c.health(id)
	case "add-device":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = c.deviceFile(http.MethodPost, "/api/devices", args[1])
	case "update-device":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = c.deviceFile(http.MethodPut, "/api/devices", args[1])
	case "remove-device":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = c.idAction(http.MethodDelete, "/api/devices", args[1])
	case "enable-device":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = c.idAction(http.MethodPost, "/api/devices/enable", args[1])
	case "disable-device":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = c.idAction(http.MethodPost, "/api/devices/disable", args[1])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(3)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: adampollerctl [-addr url] [-user u] [-pass p] <command> [args]

commands:
  health [device-id]          show health for one device, or all devices
  add-device <config.json>    register a new device
  update-device <config.json> replace a device's configuration
  remove-device <device-id>   unregister a device
  enable-device <device-id>   resume polling a disabled device
  disable-device <device-id>  stop polling a device, keeping it registered`)
}

type client struct {
	addr string
	user string
	pass string
}

func (c *client) do(req *http.Request) (*http.Response, error) {
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	return http.DefaultClient.Do(req)
}

func (c *client) health(id string) error {
	reqURL := c.addr + "/api/health"
	if id != "" {
		reqURL = c.addr + "/api/health/device?id=" + url.QueryEscape(id)
	}
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func (c *client) deviceFile(method, path, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read device config: %w", err)
	}
	req, err := http.NewRequest(method, c.addr+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func (c *client) idAction(method, path, id string) error {
	req, err := http.NewRequest(method, c.addr+path+"?id="+url.QueryEscape(id), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(body))
	}
	if len(body) == 0 {
		fmt.Println(resp.Status)
		return nil
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(body))
	}
	return nil
}
