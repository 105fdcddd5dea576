package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/filesync"
	"github.com/mixxson/kidcode2/internal/syncclient"
)

var (
	serverURL string
	token     string
	roomID    uint
	filePath  string
	language  string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "roomclient",
	Short: "Command line client for kidcode rooms",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		logrus.SetLevel(level)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
		return nil
	},
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Bind a local file to a room",
	Long: `Sync joins a room and keeps a local file in step with it.

Every write to the file is sent to the room as a local edit, and code typed by
the other members is written back into the file.`,
	RunE: runSync,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level")

	syncCmd.Flags().StringVar(&serverURL, "server", "ws://localhost:8080", "Server address")
	syncCmd.Flags().StringVar(&token, "token", os.Getenv("KIDCODE_TOKEN"), "JWT issued by /api/auth/login (default $KIDCODE_TOKEN)")
	syncCmd.Flags().UintVar(&roomID, "room", 0, "Room ID")
	syncCmd.Flags().StringVar(&filePath, "file", "", "File bound to the room")
	syncCmd.Flags().StringVar(&language, "language", "", "Switch the room to this language after joining")
	_ = syncCmd.MarkFlagRequired("room")
	_ = syncCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	var switchTo domain.Language
	if language != "" {
		l, ok := domain.ParseLanguage(language)
		if !ok {
			return fmt.Errorf("unsupported language %q", language)
		}
		switchTo = l
	}

	client, err := syncclient.New(syncclient.NewConfig(serverURL, token))
	if err != nil {
		return err
	}
	binder, err := filesync.New(filePath, roomID, client)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	log := logrus.WithFields(logrus.Fields{"room_id": roomID, "file": filePath})
	client.OnStatusChange(func(s syncclient.Status) {
		entry := log.WithField("status", s.String())
		if s.LastError != "" {
			entry = entry.WithField("last_error", s.LastError)
		}
		entry.Info("Connection status changed")
		if s.GaveUp {
			cancel(syncclient.ErrGaveUp)
		}
	})
	client.OnCodeUpdate(func(u syncclient.CodeUpdate) {
		if u.RoomID != roomID {
			return
		}
		if err := binder.Apply(u.Code); err != nil {
			log.WithError(err).Error("Failed to write remote code")
		}
	})
	client.OnMemberEvent(func(e syncclient.MemberEvent) {
		log.WithFields(logrus.Fields{"user_id": e.Member.UserID, "name": e.Member.DisplayName}).Info(e.Type)
	})

	var switchOnce sync.Once
	client.JoinRoom(roomID, func(r syncclient.JoinResult) {
		if r.Err != "" {
			cancel(fmt.Errorf("join room %d: %s", roomID, r.Err))
			return
		}
		log.WithFields(logrus.Fields{"language": r.Language, "members": len(r.Members), "resent": r.Resent}).Info("Joined room")
		if r.Code != nil {
			if err := binder.Apply(*r.Code); err != nil {
				log.WithError(err).Error("Failed to write room snapshot")
			}
		}
		if switchTo == "" || switchTo == r.Language {
			return
		}
		switchOnce.Do(func() {
			placeholder, err := client.SwitchLanguage(roomID, switchTo)
			if err != nil {
				log.WithError(err).Error("Failed to switch language")
				return
			}
			if err := binder.Apply(placeholder); err != nil {
				log.WithError(err).Error("Failed to write placeholder")
			}
		})
	})

	if err := client.Connect(ctx); err != nil {
		var rejected *syncclient.RejectedError
		if errors.As(err, &rejected) {
			return fmt.Errorf("server rejected the token: %s", rejected.Reason)
		}
		return err
	}
	defer client.Disconnect()

	if err := binder.Run(ctx); err != nil {
		return err
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	log.Info("Stopped")
	return nil
}
