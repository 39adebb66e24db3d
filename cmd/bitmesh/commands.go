package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/bitmesh"
	"github.com/opd-ai/bitmesh/config"
	"github.com/opd-ai/bitmesh/mesh"
	"github.com/opd-ai/bitmesh/overlay"
	"github.com/opd-ai/bitmesh/peer"
	"github.com/opd-ai/bitmesh/store"
)

var (
	flagConfig  string
	flagDataDir string
	flagVerbose bool
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "bitmesh",
		Short: "Dual-transport mesh/overlay messaging core",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagVerbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVarP(&flagDataDir, "datadir", "d", defaultDataDir(), "data directory")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newRunCommand())
	root.AddCommand(newBookmarkCommand())
	root.AddCommand(newRelaysCommand())
	return root
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bitmesh"
	}
	return home + "/.bitmesh"
}

func loadConfig() (*config.Config, error) {
	return config.Load(flagConfig)
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the messaging core and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// The radio driver is injected by platform builds; the shell
			// runs with a loopback mock so the overlay path is usable on
			// its own.
			local := peer.FromShort([8]byte{0, 0, 0, 0, 0, 0, 0, 1})
			core, err := bitmesh.New(bitmesh.Options{
				Config:        cfg,
				DataDir:       flagDataDir,
				MeshTransport: mesh.NewMockTransport(local),
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := core.Start(ctx); err != nil {
				return err
			}
			defer core.Stop()

			logrus.WithField("peer_id", core.Identity().PeerID().String()).Info("Core running")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return nil
		},
	}
}

func newBookmarkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmark [geohash]",
		Short: "List, add or remove geohash channel bookmarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			bookmarks, err := store.OpenGeohashBookmarks(flagDataDir)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				for _, gh := range bookmarks.List() {
					fmt.Fprintln(cmd.OutOrStdout(), gh)
				}
				return nil
			}

			gh, err := overlay.NormalizeGeohash(args[0])
			if err != nil {
				return err
			}
			remove, _ := cmd.Flags().GetBool("remove")
			if remove {
				return bookmarks.Remove(gh)
			}
			return bookmarks.Add(gh)
		},
	}
	cmd.Flags().Bool("remove", false, "remove the bookmark instead of adding it")
	return cmd
}

func newRelaysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "relays <geohash>",
		Short: "Show the relay set selected for a geohash channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			directory, err := overlay.LoadRelayDirectory()
			if err != nil {
				return err
			}
			urls, err := directory.RelaysForGeohash(args[0], cfg.Overlay.RelayCountPerGeohash)
			if err != nil {
				return err
			}
			for _, u := range urls {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			}
			return nil
		},
	}
}
