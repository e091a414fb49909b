package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TheusHen/r6p/r6p"
	"github.com/TheusHen/r6p/r6p/session"
	"github.com/TheusHen/r6p/r6p/transport/quic"
)

const (
	addrFlag    = "addr"
	timeoutFlag = "timeout"
)

func newPeer() (*r6p.Peer, error) {
	kp, err := localIdentity()
	if err != nil {
		return nil, err
	}
	cfg, err := ratchetConfig(kp)
	if err != nil {
		return nil, err
	}
	p := r6p.NewPeer(kp, cfg)
	p.Transport = quic.Options{KeepAlivePeriod: 15 * time.Second}
	return p, nil
}

func listenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept peers over QUIC and print the messages they send",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPeer()
			if err != nil {
				return err
			}
			if err := p.Listen(viper.GetString(addrFlag)); err != nil {
				return err
			}
			defer p.Close()
			fmt.Printf("Listening on %s as %s\n", p.ListenAddr(), p.PeerID())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			for {
				ch, err := p.Accept(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return p.Sessions().SaveAll(app.store)
					}
					app.log.Warnf("Handshake failed: %v", err)
					continue
				}
				go serve(ctx, p, ch)
			}
		},
	}
	cmd.Flags().String(addrFlag, "[::]:4433", "UDP address to listen on")
	_ = viper.BindPFlag(addrFlag, cmd.Flags().Lookup(addrFlag))
	return cmd
}

func serve(ctx context.Context, p *r6p.Peer, ch *session.Channel) {
	peer := ch.RemotePeerID()
	app.log.Infof("Session with %s established", peer.Short())
	for {
		pt, err := ch.Receive(ctx)
		if err == io.EOF {
			app.log.Infof("%s closed the channel", peer.Short())
			_ = ch.CloseWithError(0, "bye")
			break
		}
		if err != nil {
			app.log.Warnf("Receive from %s: %v", peer.Short(), err)
			break
		}
		fmt.Printf("%s: %s\n", peer.Short(), pt)
	}
	if err := p.Sessions().SaveAll(app.store); err != nil {
		app.log.Errorf("Unable to save sessions: %v", err)
	}
}

func dialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dial <addr> <message>...",
		Short: "Connect to a listening peer over QUIC and send messages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPeer()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration(timeoutFlag))
			defer cancel()

			ch, err := p.Dial(ctx, args[0])
			if err != nil {
				return err
			}
			defer ch.CloseWithError(0, "done")
			fmt.Printf("Connected to %s\n", ch.RemotePeerID())

			for _, m := range args[1:] {
				if err := ch.Send(ctx, []byte(m)); err != nil {
					return err
				}
			}
			if err := ch.Close(); err != nil {
				return err
			}
			// the listener hangs up once it has read everything
			select {
			case <-ch.Connection().Context().Done():
			case <-ctx.Done():
			}
			return p.Sessions().SaveAll(app.store)
		},
	}
	cmd.Flags().Duration(timeoutFlag, 30*time.Second, "give up after this long")
	_ = viper.BindPFlag(timeoutFlag, cmd.Flags().Lookup(timeoutFlag))
	return cmd
}
