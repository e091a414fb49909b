package commands

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/slog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TheusHen/r6p/r6p/crypto"
	"github.com/TheusHen/r6p/r6p/identity"
	"github.com/TheusHen/r6p/r6p/ratchet"
	"github.com/TheusHen/r6p/r6p/session"
	"github.com/TheusHen/r6p/r6p/store"
)

const (
	configFlag   = "config"
	homeFlag     = "home"
	logLevelFlag = "loglevel"
	cipherFlag   = "cipher"
	maxSkipFlag  = "max-skip"
)

var cfgFile string

// app is what every subcommand runs against, built by the root's
// PersistentPreRunE.
var app struct {
	home  string
	store *store.Store
	log   slog.Logger
	rtch  slog.Logger
}

func Execute() error {
	root := &cobra.Command{
		Use:               "r6p",
		Short:             "Ratcheting encrypted sessions between two peers",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app.store == nil {
				return nil
			}
			return app.store.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, configFlag, "", "config file (default <home>/r6p.yaml)")
	pf.String(homeFlag, "", "data directory (default ~/.r6p)")
	pf.String(logLevelFlag, "info", "log level: trace, debug, info, warn, error, critical, off")
	pf.String(cipherFlag, "aes", "message cipher: aes or chacha; both peers must agree")
	pf.Int(maxSkipFlag, ratchet.DefaultMaxSkip, "most links one message may skip ahead")
	if err := viper.BindPFlags(pf); err != nil {
		return err
	}

	root.AddCommand(initCmd(), bundleCmd(), pairCmd(), encryptCmd(), decryptCmd(),
		ratchetCmd(), listenCmd(), dialCmd(), backupCmd(), recoverCmd())
	return root.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	viper.SetEnvPrefix("R6P")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	home := viper.GetString(homeFlag)
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		home = filepath.Join(dir, ".r6p")
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return err
	}
	app.home = home

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(home)
		viper.SetConfigName("r6p")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return errors.Wrap(err, "read config")
		}
	}

	bknd := slog.NewBackend(os.Stderr)
	app.log = bknd.Logger("R6P")
	app.rtch = bknd.Logger("RTCH")
	stor := bknd.Logger("STOR")
	lvl, ok := slog.LevelFromString(viper.GetString(logLevelFlag))
	if !ok {
		return errors.Errorf("unknown log level %q", viper.GetString(logLevelFlag))
	}
	for _, l := range []slog.Logger{app.log, app.rtch, stor} {
		l.SetLevel(lvl)
	}

	st, err := store.Open(store.Config{Path: filepath.Join(home, "db"), Logger: stor})
	if err != nil {
		return err
	}
	app.store = st
	return nil
}

// localIdentity loads the identity created by init.
func localIdentity() (identity.KeyPair, error) {
	kp, err := app.store.LoadIdentity()
	if errors.Is(err, store.ErrNotFound) {
		return identity.KeyPair{}, errors.New("no identity; run r6p init first")
	}
	return kp, err
}

// ratchetConfig builds the session configuration for kp's scheme and the
// configured cipher.
func ratchetConfig(kp identity.KeyPair) (ratchet.Config, error) {
	cipher, err := crypto.ParseCipherSuite(viper.GetString(cipherFlag))
	if err != nil {
		return ratchet.Config{}, err
	}
	suite, err := crypto.NewSuite(kp.Scheme, cipher)
	if err != nil {
		return ratchet.Config{}, err
	}
	cfg := ratchet.DefaultConfig()
	cfg.Provider = suite
	cfg.MaxSkip = viper.GetInt(maxSkipFlag)
	cfg.Logger = app.rtch
	return cfg, nil
}

// sessions restores every stored session for the local identity.
func sessions() (*session.Manager, error) {
	kp, err := localIdentity()
	if err != nil {
		return nil, err
	}
	cfg, err := ratchetConfig(kp)
	if err != nil {
		return nil, err
	}
	mgr := session.NewManager(cfg, kp)
	if _, err := mgr.Restore(app.store); err != nil {
		app.log.Warnf("Some sessions could not be restored: %v", err)
	}
	return mgr, nil
}

func lookup(mgr *session.Manager, peerHex string) (*session.Session, error) {
	id, err := identity.ParsePeerIDHex(peerHex)
	if err != nil {
		return nil, errors.Wrap(err, "peer id")
	}
	s, ok := mgr.Get(id)
	if !ok {
		return nil, errors.Errorf("no session with %s", id.Short())
	}
	return s, nil
}
