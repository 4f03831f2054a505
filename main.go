package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"triagecall/app/client/hermes"
	"triagecall/app/client/oracle"
	"triagecall/app/client/speechkit"
	"triagecall/app/client/twilio"
	"triagecall/app/config"
	"triagecall/app/server"
	"triagecall/app/service/conversation"
	"triagecall/app/service/engine"
	"triagecall/app/service/queue"
	"triagecall/app/service/record"
	"triagecall/app/service/session"
	"triagecall/app/service/transcript"
	"triagecall/app/service/tree"
	"triagecall/app/service/voice"
	"triagecall/app/util/keylock"
	"triagecall/app/util/mylog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	phoneFlag    string
	languageFlag string
)

var rootCmd = &cobra.Command{
	Use:          "triagecall",
	Short:        "Medical triage over phone calls and text messages",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve telephony webhooks, forms and clinician tools",
	RunE:  runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run a triage conversation in the terminal",
	RunE:  runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to config file")
	chatCmd.Flags().StringVarP(&phoneFlag, "phone", "p", "", "Caller phone number, asked for when empty")
	chatCmd.Flags().StringVarP(&languageFlag, "language", "l", "", "Conversation language: en, hi or ta")
	rootCmd.AddCommand(serveCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func bootstrap(terminal bool) (*do.Injector, context.Context, context.CancelFunc) {
	mylog.Preinit()

	var opts []config.Option
	if terminal {
		opts = append(opts, config.WithoutTelephony())
	}

	cfg, err := config.Load(configPath, opts...)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if terminal {
		// nobody hears the audio
		cfg.SpeechKit.Disabled = true
	}

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	di := do.New()

	appCtx, cancel := context.WithCancel(context.Background())
	do.ProvideValue(di, appCtx)
	do.ProvideValue(di, cfg)
	do.ProvideValue(di, &keylock.Map{})

	do.Provide(di, speechkit.NewClient)
	do.Provide(di, oracle.New)
	do.Provide(di, hermes.New)
	do.Provide(di, tree.New)
	do.Provide(di, record.NewStore)
	do.Provide(di, queue.New)
	do.Provide(di, transcript.New)
	do.Provide(di, voice.New)
	do.Provide(di, conversation.New)
	do.Provide(di, session.New)
	do.Provide(di, engine.New)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	return di, appCtx, cancel
}

func runServe(_ *cobra.Command, _ []string) error {
	di, appCtx, cancel := bootstrap(false)
	defer cancel()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	do.Provide(di, twilio.New)
	do.Provide(di, server.New)

	slog.Info("Service started", "tree", do.MustInvoke[*tree.Tree](di).String())

	go do.MustInvoke[*engine.Service](di).Run(appCtx)

	if err := do.MustInvoke[*server.Server](di).Run(appCtx); err != nil {
		return err
	}

	<-appCtx.Done()

	return nil
}

// runChat talks to one caller over stdin and prints the record once the
// conversation is over.
func runChat(cmd *cobra.Command, _ []string) error {
	di, appCtx, cancel := bootstrap(true)
	defer cancel()
	defer di.Shutdown()

	go do.MustInvoke[*engine.Service](di).Run(appCtx)

	sessionSvc := do.MustInvoke[*session.Service](di)

	in := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	phone := phoneFlag
	if phone == "" {
		fmt.Fprint(out, "Phone number: ")
		if !in.Scan() {
			return nil
		}
		phone = in.Text()
	}

	callerID, err := session.NormalizePhone(phone)
	if err != nil {
		return err
	}

	sessionID, opening, err := sessionSvc.Start(appCtx, callerID, session.ChannelTerminal, languageFlag)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	fmt.Fprintf(out, "agent> %s\n", opening.ReplyText)

	ended := false
	for !ended && appCtx.Err() == nil {
		fmt.Fprint(out, "you> ")
		if !in.Scan() {
			break
		}

		action := sessionSvc.HandleTurn(appCtx, session.InboundEvent{
			CallerID:  callerID,
			SessionID: sessionID,
			Utterance: strings.TrimSpace(in.Text()),
			Channel:   session.ChannelTerminal,
		})
		fmt.Fprintf(out, "agent> %s\n", action.ReplyText)

		ended = action.EndSession
	}

	if !ended {
		if err = sessionSvc.End(context.WithoutCancel(appCtx), callerID, sessionID, "closed"); err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
	}

	rec, err := sessionSvc.Record(context.WithoutCancel(appCtx), callerID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))

	return nil
}
