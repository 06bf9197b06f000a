// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/isambard-sc/openportal/agent"
	"github.com/isambard-sc/openportal/exchange"
	"github.com/isambard-sc/openportal/introspect"
	"github.com/isambard-sc/openportal/lib/config"
	"github.com/isambard-sc/openportal/lib/secret"
	"github.com/isambard-sc/openportal/meshid"
	"github.com/isambard-sc/openportal/runtime"
	"github.com/isambard-sc/openportal/supervisor"
)

// Version is set by the build, or left at "dev" for local builds.
var Version = "dev"

// defaultConfigPath is where every subcommand looks for the agent
// configuration file unless overridden with -c.
const defaultConfigPath = "openportal.toml"

// Root builds the top-level command tree shared by every agent binary.
func Root() *Command {
	return &Command{
		Name:    "openportal-agent",
		Summary: "Run and configure one OpenPortal mesh agent.",
		Subcommands: []*Command{
			initCommand(),
			clientCommand(),
			serverCommand(),
			extraCommand(),
			secretCommand(),
			encryptionCommand(),
			runCommand(),
			versionCommand(),
		},
	}
}

func configFlag(fs *pflag.FlagSet) *string {
	return fs.StringP("config", "c", defaultConfigPath, "path to the agent configuration file")
}

func loadConfig(path string) (*config.Agent, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, Configf("loading configuration: %v", err)
	}
	return cfg, nil
}

func initCommand() *Command {
	var path *string
	var agentType, name, url, ip string
	var port int
	var zone string
	fs := func() *pflag.FlagSet {
		set := pflag.NewFlagSet("init", pflag.ContinueOnError)
		path = configFlag(set)
		set.StringVar(&agentType, "type", "", "agent role (Portal, Provider, Platform, Instance, Account, Filesystem, Bridge)")
		set.StringVar(&name, "name", "", "this agent's name")
		set.StringVar(&url, "url", "", "this agent's own inbound URL, if it accepts clients")
		set.StringVar(&ip, "ip", "0.0.0.0", "address to listen on")
		set.IntVar(&port, "port", 0, "port to listen on")
		set.StringVar(&zone, "zone", "", "this agent's zone")
		return set
	}
	return &Command{
		Name:    "init",
		Summary: "Write a fresh configuration file.",
		Flags:   fs,
		Run: func(args []string) error {
			if name == "" || agentType == "" || zone == "" {
				return Usagef("init: --type, --name, and --zone are required")
			}
			if err := meshid.AgentName(name).Validate(); err != nil {
				return Usagef("init: %v", err)
			}
			t := meshid.AgentType(agentType)
			if !t.Valid() {
				return Usagef("init: unrecognized agent role %q", agentType)
			}
			cfg := config.New(t, meshid.AgentName(name), url, ip, port, meshid.Zone(zone))
			if err := config.Save(*path, cfg); err != nil {
				return Configf("init: %v", err)
			}
			fmt.Fprintf(os.Stdout, "wrote %s\n", *path)
			return nil
		},
	}
}

func clientCommand() *Command {
	var path *string
	var add, remove, list bool
	var name, ipRange, zone string
	fs := func() *pflag.FlagSet {
		set := pflag.NewFlagSet("client", pflag.ContinueOnError)
		path = configFlag(set)
		set.BoolVarP(&add, "add", "a", false, "add a new inbound client entry")
		set.BoolVarP(&remove, "remove", "r", false, "remove an inbound client entry by name")
		set.BoolVarP(&list, "list", "l", false, "list configured inbound clients")
		set.StringVar(&name, "name", "", "client agent name")
		set.StringVar(&ipRange, "ip-range", "", "CIDR range the client is allowed to connect from")
		set.StringVar(&zone, "zone", "", "client's zone")
		return set
	}
	return &Command{
		Name:    "client",
		Summary: "Manage inbound clients this agent accepts.",
		Flags:   fs,
		Run: func(args []string) error {
			cfg, err := loadConfig(*path)
			if err != nil {
				return err
			}
			switch {
			case list:
				for _, c := range cfg.Service.Clients {
					fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", c.Name, c.IPRange, c.Zone)
				}
				return nil
			case add:
				if name == "" || ipRange == "" || zone == "" {
					return Usagef("client -a: --name, --ip-range, and --zone are required")
				}
				peer, err := config.NewClientPeer(meshid.AgentName(name), ipRange, meshid.Zone(zone))
				if err != nil {
					return Runtimef("client -a: %v", err)
				}
				cfg.Service.Clients = append(cfg.Service.Clients, peer)
				return saveOrConfigError(*path, cfg)
			case remove:
				if name == "" {
					return Usagef("client -r: --name is required")
				}
				kept := cfg.Service.Clients[:0]
				for _, c := range cfg.Service.Clients {
					if c.Name.String() != name {
						kept = append(kept, c)
					}
				}
				cfg.Service.Clients = kept
				return saveOrConfigError(*path, cfg)
			default:
				return Usagef("client: one of -a, -r, -l is required")
			}
		},
	}
}

func serverCommand() *Command {
	var path *string
	var add, remove, list bool
	var name, url, zone string
	fs := func() *pflag.FlagSet {
		set := pflag.NewFlagSet("server", pflag.ContinueOnError)
		path = configFlag(set)
		set.BoolVarP(&add, "add", "a", false, "add a new outbound server entry")
		set.BoolVarP(&remove, "remove", "r", false, "remove an outbound server entry by name")
		set.BoolVarP(&list, "list", "l", false, "list configured outbound servers")
		set.StringVar(&name, "name", "", "server agent name")
		set.StringVar(&url, "url", "", "server's websocket URL")
		set.StringVar(&zone, "zone", "", "server's zone")
		return set
	}
	return &Command{
		Name:    "server",
		Summary: "Manage outbound servers this agent dials.",
		Flags:   fs,
		Run: func(args []string) error {
			cfg, err := loadConfig(*path)
			if err != nil {
				return err
			}
			switch {
			case list:
				for _, s := range cfg.Service.Servers {
					fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", s.Name, s.URL, s.Zone)
				}
				return nil
			case add:
				if name == "" || url == "" || zone == "" {
					return Usagef("server -a: --name, --url, and --zone are required")
				}
				peer, err := config.NewServerPeer(meshid.AgentName(name), url, meshid.Zone(zone))
				if err != nil {
					return Runtimef("server -a: %v", err)
				}
				cfg.Service.Servers = append(cfg.Service.Servers, peer)
				return saveOrConfigError(*path, cfg)
			case remove:
				if name == "" {
					return Usagef("server -r: --name is required")
				}
				kept := cfg.Service.Servers[:0]
				for _, s := range cfg.Service.Servers {
					if s.Name.String() != name {
						kept = append(kept, s)
					}
				}
				cfg.Service.Servers = kept
				return saveOrConfigError(*path, cfg)
			default:
				return Usagef("server: one of -a, -r, -l is required")
			}
		},
	}
}

func extraCommand() *Command {
	var path *string
	var key, value string
	var remove, list bool
	fs := func() *pflag.FlagSet {
		set := pflag.NewFlagSet("extra", pflag.ContinueOnError)
		path = configFlag(set)
		set.StringVarP(&key, "key", "k", "", "extras key")
		set.StringVarP(&value, "value", "v", "", "extras value")
		set.BoolVarP(&remove, "remove", "r", false, "remove the key instead of setting it")
		set.BoolVarP(&list, "list", "l", false, "list all extras entries")
		return set
	}
	return &Command{
		Name:    "extra",
		Summary: "Set free-form key/value extras on the configuration.",
		Flags:   fs,
		Run: func(args []string) error {
			cfg, err := loadConfig(*path)
			if err != nil {
				return err
			}
			if cfg.Extras == nil {
				cfg.Extras = make(map[string]string)
			}
			switch {
			case list:
				keys := make([]string, 0, len(cfg.Extras))
				for k := range cfg.Extras {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(os.Stdout, "%s=%s\n", k, cfg.Extras[k])
				}
				return nil
			case remove:
				if key == "" {
					return Usagef("extra -r: -k is required")
				}
				delete(cfg.Extras, key)
				return saveOrConfigError(*path, cfg)
			default:
				if key == "" {
					return Usagef("extra: -k is required")
				}
				cfg.Extras[key] = value
				return saveOrConfigError(*path, cfg)
			}
		},
	}
}

func secretCommand() *Command {
	var path *string
	var key, value string
	var remove, list bool
	fs := func() *pflag.FlagSet {
		set := pflag.NewFlagSet("secret", pflag.ContinueOnError)
		path = configFlag(set)
		set.StringVarP(&key, "key", "k", "", "secret key")
		set.StringVarP(&value, "value", "v", "", "secret value")
		set.BoolVarP(&remove, "remove", "r", false, "remove the key instead of setting it")
		set.BoolVarP(&list, "list", "l", false, "list known secret keys (values are not printed)")
		return set
	}
	return &Command{
		Name:    "secret",
		Summary: "Manage this agent's secrets table.",
		Flags:   fs,
		Run: func(args []string) error {
			cfg, err := loadConfig(*path)
			if err != nil {
				return err
			}
			passphrase, err := passphraseFor(&cfg.Secrets)
			if err != nil {
				return err
			}
			if passphrase != nil {
				defer passphrase.Close()
			}
			values, err := cfg.Secrets.Open(passphrase)
			if err != nil {
				return Authf("secret: %v", err)
			}
			switch {
			case list:
				keys := make([]string, 0, len(values))
				for k := range values {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintln(os.Stdout, k)
				}
				return nil
			case remove:
				if key == "" {
					return Usagef("secret -r: -k is required")
				}
				delete(values, key)
			default:
				if key == "" {
					return Usagef("secret: -k is required")
				}
				values[key] = value
			}
			if err := cfg.Secrets.Seal(values, passphrase); err != nil {
				return Runtimef("secret: %v", err)
			}
			return saveOrConfigError(*path, cfg)
		},
	}
}

func encryptionCommand() *Command {
	var path *string
	var simple, encrypted bool
	fs := func() *pflag.FlagSet {
		set := pflag.NewFlagSet("encryption", pflag.ContinueOnError)
		path = configFlag(set)
		set.BoolVar(&simple, "simple", false, "store secrets as plain TOML")
		set.BoolVar(&encrypted, "encrypted", false, "store secrets encrypted with a passphrase")
		return set
	}
	return &Command{
		Name:    "encryption",
		Summary: "Switch how the secrets table is protected at rest.",
		Flags:   fs,
		Run: func(args []string) error {
			if simple == encrypted {
				return Usagef("encryption: exactly one of --simple or --encrypted is required")
			}
			cfg, err := loadConfig(*path)
			if err != nil {
				return err
			}
			oldPassphrase, err := passphraseFor(&cfg.Secrets)
			if err != nil {
				return err
			}
			if oldPassphrase != nil {
				defer oldPassphrase.Close()
			}
			values, err := cfg.Secrets.Open(oldPassphrase)
			if err != nil {
				return Authf("encryption: %v", err)
			}

			var newPassphrase *secret.Buffer
			if encrypted {
				newPassphrase, err = promptPassphrase("new secrets passphrase: ")
				if err != nil {
					return Runtimef("encryption: %v", err)
				}
				defer newPassphrase.Close()
				cfg.Secrets.Mode = config.SecretsEncrypted
			} else {
				cfg.Secrets.Mode = config.SecretsSimple
			}
			if err := cfg.Secrets.Seal(values, newPassphrase); err != nil {
				return Runtimef("encryption: %v", err)
			}
			return saveOrConfigError(*path, cfg)
		},
	}
}

func runCommand() *Command {
	var path, socketPath *string
	fs := func() *pflag.FlagSet {
		set := pflag.NewFlagSet("run", pflag.ContinueOnError)
		path = configFlag(set)
		socketPath = set.String("introspect-socket", "", "override the introspection socket path (default: $OPENPORTAL_STATE_DIR/introspect.sock)")
		return set
	}
	return &Command{
		Name:    "run",
		Summary: "Run this agent's transport, routing, and supervisor loops.",
		Flags:   fs,
		Run: func(args []string) error {
			cfg, err := loadConfig(*path)
			if err != nil {
				return err
			}

			logger := newLogger().With("agent", cfg.Service.Name, "role", cfg.AgentType)

			ex := exchange.New()
			router := agent.New(cfg.Service.Name, cfg.AgentType, meshid.NewZoneSet(cfg.Service.Zone), ex, nil)
			ex.SetHandler(router.HandleEvent)

			svc := runtime.New(cfg, router, runtime.WithLogger(logger))
			sup := supervisor.New(router, supervisor.WithLogger(logger))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go sup.Run(ctx)
			if sock := introspectSocketPath(*socketPath); sock != "" {
				introspectSrv := introspect.New(sock, router, logger)
				go func() {
					if err := introspectSrv.Serve(ctx); err != nil {
						logger.Error("introspection socket stopped", "error", err)
					}
				}()
			}

			logger.Info("starting")
			if err := svc.Run(ctx); err != nil {
				return Runtimef("run: %v", err)
			}
			logger.Info("stopped")
			return nil
		},
	}
}

// newLogger builds the process-wide logger: JSON by default, or a
// human-readable text handler when OPENPORTAL_LOG_FORMAT=text.
func newLogger() *slog.Logger {
	if os.Getenv("OPENPORTAL_LOG_FORMAT") == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}

// introspectSocketPath returns override if set, otherwise
// $OPENPORTAL_STATE_DIR/introspect.sock, or "" if neither is
// configured (the socket is disabled).
func introspectSocketPath(override string) string {
	if override != "" {
		return override
	}
	stateDir := os.Getenv("OPENPORTAL_STATE_DIR")
	if stateDir == "" {
		return ""
	}
	return filepath.Join(stateDir, "introspect.sock")
}

func versionCommand() *Command {
	return &Command{
		Name:    "version",
		Summary: "Print the build version.",
		Run: func(args []string) error {
			fmt.Fprintln(os.Stdout, Version)
			return nil
		},
	}
}

func saveOrConfigError(path string, cfg *config.Agent) error {
	if err := config.Save(path, cfg); err != nil {
		return Configf("saving configuration: %v", err)
	}
	return nil
}

// passphraseFor prompts for a passphrase on the controlling terminal if
// the secrets table is encrypted, and returns nil otherwise.
func passphraseFor(secrets *config.Secrets) (*secret.Buffer, error) {
	if secrets.Mode != config.SecretsEncrypted {
		return nil, nil
	}
	return promptPassphrase("secrets passphrase: ")
}

func promptPassphrase(prompt string) (*secret.Buffer, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	defer secret.Zero(raw)
	return secret.NewFromBytes(raw)
}
