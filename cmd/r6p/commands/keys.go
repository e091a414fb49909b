package commands

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/TheusHen/r6p/r6p/crypto"
	"github.com/TheusHen/r6p/r6p/identity"
	"github.com/TheusHen/r6p/r6p/ratchet"
	"github.com/TheusHen/r6p/r6p/session"
	"github.com/TheusHen/r6p/r6p/store"
)

func initCmd() *cobra.Command {
	var scheme string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate the local identity key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.store.LoadIdentity(); err == nil && !force {
				return errors.New("identity already exists; use --force to replace it")
			} else if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			s, err := crypto.ParseScheme(scheme)
			if err != nil {
				return err
			}
			kp, err := identity.GenerateKeyPair(s)
			if err != nil {
				return err
			}
			if err := app.store.SaveIdentity(kp); err != nil {
				return err
			}
			fmt.Printf("Identity created (%v).\nPeer ID: %s\n", kp.Scheme, kp.PeerID())
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", "ed25519", "signature scheme: ed25519 or mldsa65")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing identity")
	return cmd
}

// bundle <name>: start a session and print the bundle to hand to the peer.
func bundleCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "bundle <name>",
		Short: "Start a session and print its key bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessions()
			if err != nil {
				return err
			}
			s, b, err := mgr.NewSession()
			if err != nil {
				return err
			}
			state, err := s.ExportState()
			if err != nil {
				return err
			}
			if err := app.store.SavePending(args[0], state); err != nil {
				return err
			}
			enc, err := session.EncodeBundle(b)
			if err != nil {
				return err
			}
			if out != "" {
				return os.WriteFile(out, enc, 0o644)
			}
			fmt.Println(string(enc))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the bundle to a file instead of stdout")
	return cmd
}

// pair <name> <peer-bundle-file>: finish the session started by bundle.
func pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair <name> <peer-bundle-file>",
		Short: "Derive the shared secret from a peer's bundle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessions()
			if err != nil {
				return err
			}
			pending, err := app.store.LoadPending(args[0])
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			peer, err := session.DecodeBundle(raw)
			if err != nil {
				return err
			}

			// a session already holding the local identity refuses
			// pending state created under another one
			s, _, err := mgr.NewSession()
			if err != nil {
				return err
			}
			if err := s.ImportState(pending); err != nil {
				return err
			}
			if err := s.CreateSecretUsingBundle(peer); err != nil {
				return err
			}
			id, err := mgr.Add(s)
			if err != nil {
				return err
			}
			if err := mgr.SaveAll(app.store); err != nil {
				return err
			}
			if err := app.store.DeletePending(args[0]); err != nil {
				app.log.Warnf("Unable to drop pending session %q: %v", args[0], err)
			}
			fmt.Printf("Paired with %s\n", id)
			return nil
		},
	}
}

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <peer-id> <message>",
		Short: "Encrypt a message for a paired peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessions()
			if err != nil {
				return err
			}
			s, err := lookup(mgr, args[0])
			if err != nil {
				return err
			}
			msg, err := s.Encrypt([]byte(args[1]))
			if err != nil {
				return err
			}
			b, err := msg.MarshalBinary()
			if err != nil {
				return err
			}
			if err := mgr.SaveAll(app.store); err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(b))
			return nil
		},
	}
}

func decryptCmd() *cobra.Command {
	var skipVerify bool
	cmd := &cobra.Command{
		Use:   "decrypt <peer-id> <message>",
		Short: "Verify and decrypt a message from a paired peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessions()
			if err != nil {
				return err
			}
			s, err := lookup(mgr, args[0])
			if err != nil {
				return err
			}
			raw, err := base64.StdEncoding.DecodeString(args[1])
			if err != nil {
				return errors.Wrap(err, "message")
			}
			var msg ratchet.EncryptedMessage
			if err := msg.UnmarshalBinary(raw); err != nil {
				return err
			}
			if !skipVerify {
				if err := s.VerifyMessage(msg, nil); err != nil {
					return err
				}
			}
			pt, err := s.Decrypt(msg)
			// a failed decrypt can still cache keys, so save either way
			if serr := mgr.SaveAll(app.store); serr != nil {
				app.log.Errorf("Unable to save sessions: %v", serr)
			}
			if err != nil {
				return err
			}
			fmt.Println(string(pt))
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipVerify, "no-verify", false, "skip the sender signature check")
	return cmd
}

func ratchetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ratchet <peer-id>",
		Short: "Advance the Diffie-Hellman ratchet; the peer must do the same",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessions()
			if err != nil {
				return err
			}
			s, err := lookup(mgr, args[0])
			if err != nil {
				return err
			}
			if err := s.RatchetDiffieHellman(); err != nil {
				return err
			}
			return mgr.SaveAll(app.store)
		},
	}
}
