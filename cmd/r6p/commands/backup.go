package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheusHen/r6p/r6p/identity"
	"github.com/TheusHen/r6p/r6p/store"
)

const backupName = "sessions"

func backupCmd() *cobra.Command {
	var data, parity int
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write an erasure-coded backup of every session record",
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := store.NewBackupCodec(data, parity)
			if err != nil {
				return err
			}
			ids, err := app.store.PeerIDs()
			if err != nil {
				return err
			}
			recs := make(map[string][]byte, len(ids))
			for _, id := range ids {
				rec, err := app.store.LoadState(id)
				if err != nil {
					return err
				}
				recs[id.String()] = rec
			}
			blob, err := json.Marshal(recs)
			if err != nil {
				return err
			}
			if err := app.store.SaveBackup(backupName, codec, blob); err != nil {
				return err
			}
			fmt.Printf("Backed up %d sessions in %d+%d shards\n", len(recs), data, parity)
			return nil
		},
	}
	cmd.Flags().IntVar(&data, "data-shards", 4, "data shards")
	cmd.Flags().IntVar(&parity, "parity-shards", 2, "parity shards; this many may be lost")
	return cmd
}

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Restore session records from the erasure-coded backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := app.store.LoadBackup(backupName)
			if err != nil {
				return err
			}
			var recs map[string][]byte
			if err := json.Unmarshal(blob, &recs); err != nil {
				return err
			}
			for k, rec := range recs {
				id, err := identity.ParsePeerIDHex(k)
				if err != nil {
					return err
				}
				if err := app.store.SaveState(id, rec); err != nil {
					return err
				}
			}
			fmt.Printf("Recovered %d sessions\n", len(recs))
			return nil
		},
	}
}
