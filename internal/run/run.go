// Package run sequences one whole backup run: configuration, network
// guard, credential retrieval, session-variable sourcing, the borg
// steps and finally log rotation. Each stage either passes or aborts
// the run; there are no retries and no backward transitions.
package run

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/pont-us/bbackup/internal/borg"
	"github.com/pont-us/bbackup/internal/config"
	"github.com/pont-us/bbackup/internal/logrot"
	"github.com/pont-us/bbackup/internal/netguard"
	"github.com/pont-us/bbackup/internal/runlog"
	"github.com/pont-us/bbackup/internal/secrets"
	"github.com/pont-us/bbackup/internal/session"
)

// Exit codes, one per failure class.
const (
	ExitOK      = 0
	ExitBackup  = 1
	ExitConfig  = 2
	ExitNetwork = 3
	ExitAuth    = 4
)

// Options carries the run parameters and every external capability the
// pipeline touches, so tests can substitute deterministic fakes.
type Options struct {
	ProfileDir string
	DryRun     bool

	// Console receives the engine output alongside the run log.
	// Defaults to os.Stdout.
	Console io.Writer

	Resolver netguard.GatewayResolver // default: netlink
	Secrets  secrets.Store            // default: freedesktop secret service
	Getenv   func(string) string      // default: os.Getenv

	EngineRun borg.RunFunc   // default: local borg subprocess
	RotateRun logrot.RunFunc // default: local logrotate subprocess

	ReadSession func(path string) (session.Snapshot, error) // default: session.Read
	ProbeAgent  func(sock string) error                     // default: session.ProbeAgent
}

func (o *Options) fillDefaults() {
	if o.Console == nil {
		o.Console = os.Stdout
	}
	if o.Resolver == nil {
		o.Resolver = netguard.NetlinkResolver{}
	}
	if o.Secrets == nil {
		o.Secrets = secrets.ServiceStore{}
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.ReadSession == nil {
		o.ReadSession = session.Read
	}
	if o.ProbeAgent == nil {
		o.ProbeAgent = session.ProbeAgent
	}
}

// Backup executes the whole pipeline for one profile and returns the
// process exit code.
func Backup(opts Options) int {
	opts.fillDefaults()

	profile, err := config.Load(opts.ProfileDir)
	if err != nil {
		log.WithError(err).Error("configuration error")
		return ExitConfig
	}
	cfg := profile.Config
	log.WithField("profile", profile.Name).Info("loaded configuration")

	guard := netguard.Guard{Whitelist: cfg.NetworkWhitelist, Resolver: opts.Resolver}
	if err := guard.Check(); err != nil {
		log.WithError(err).Error("network policy forbids backing up from here")
		return ExitNetwork
	}

	passphrase, err := opts.Secrets.Lookup(map[string]string{
		cfg.SecretAttribute: profile.Name,
	})
	if err != nil {
		log.WithError(err).Error("could not obtain repository passphrase")
		return ExitAuth
	}

	env := map[string]string{"BORG_PASSPHRASE": passphrase}
	for k, v := range sessionEnv(cfg, opts) {
		env[k] = v
	}

	runLog, err := runlog.Open(profile.LogFile())
	if err != nil {
		log.WithError(err).Error("could not open the run log")
		return ExitConfig
	}

	sources := cfg.SourcePaths
	if len(sources) == 0 {
		sources = []string{opts.Getenv("HOME")}
	}

	engine := &borg.Engine{
		Repository: cfg.Repository,
		Env:        env,
		Output:     runLog.Tee(opts.Console),
		DryRun:     opts.DryRun,
		Run:        opts.EngineRun,
	}

	log.WithField("repository", cfg.Repository).Info("starting backup")
	engineErr := engineSteps(engine, profile, sources)

	if err := runLog.Close(); err != nil {
		log.WithError(err).Warn("closing run log")
	}

	// The log is archived even after engine failures; a rotation
	// failure never changes the run's outcome.
	rotator := logrot.Rotator{Dir: profile.Dir, Debug: opts.DryRun, Run: opts.RotateRun}
	if err := rotator.Rotate(opts.Console); err != nil {
		log.WithError(err).Error("archiving the run log failed")
	}

	if engineErr != nil {
		return ExitBackup
	}
	return ExitOK
}

// engineSteps runs create, prune and compact in order, stopping at the
// first failure. Returns the first error, with the per-step summary
// logged either way.
func engineSteps(engine *borg.Engine, profile *config.Profile, sources []string) error {
	cfg := profile.Config

	err := engine.Create(cfg.ArchivePrefix, cfg.Compression, profile.ExcludeFile(), sources)
	log.Info("backup finished ", borg.Describe(err))
	if err != nil {
		log.WithError(err).Error("archive creation failed; skipping prune and compact")
		return err
	}

	err = engine.Prune(cfg.Prune, cfg.ArchivePrefix)
	log.Info("prune finished ", borg.Describe(err))
	if err != nil {
		log.WithError(err).Error("prune failed; skipping compact")
		return err
	}

	err = engine.Compact()
	log.Info("compact finished ", borg.Describe(err))
	if err != nil {
		log.WithError(err).Error("compact failed")
	}
	return err
}

// sessionEnv loads the exported session variables named by the config
// and probes the ssh agent behind them. Both are best-effort: a local
// repository needs neither, so failures only warn.
func sessionEnv(cfg config.Config, opts Options) map[string]string {
	if cfg.SessionScriptPath == "" {
		return nil
	}
	path := expandPath(cfg.SessionScriptPath, opts.Getenv)
	snap, err := opts.ReadSession(path)
	if err != nil {
		log.WithError(err).Warn("could not read the session script; continuing without session variables")
		return nil
	}
	if snap.SSHAuthSock != "" {
		if err := opts.ProbeAgent(snap.SSHAuthSock); err != nil {
			log.WithError(err).Warn("captured ssh agent socket is not answering; repository access over ssh may fail")
		}
	}
	return snap.Environ()
}

// expandPath expands a leading ~ and $VAR references through getenv.
func expandPath(p string, getenv func(string) string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		p = filepath.Join(getenv("HOME"), strings.TrimPrefix(p, "~"))
	}
	return os.Expand(p, getenv)
}
