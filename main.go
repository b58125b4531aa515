package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
)

var version = "dev"

func newLogger() zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false, TimeFormat: time.RFC3339}
	consoleWriter.TimeFormat = "[" + time.RFC3339 + "]"
	consoleWriter.PartsOrder = []string{
		zerolog.TimestampFieldName,
		zerolog.LevelFieldName,
		zerolog.CallerFieldName,
		zerolog.MessageFieldName,
	}

	logger := zerolog.New(consoleWriter).
		With().Timestamp().Logger()

	level := zerolog.InfoLevel
	envLevel, ok := os.LookupEnv("LOG_LEVEL")
	if ok {
		parsed, err := zerolog.ParseLevel(envLevel)
		if err != nil {
			logger.Warn().Err(err).Msg("could not parse environment variable LOG_LEVEL")
			return logger
		}
		level = parsed
	}

	return logger.Level(level)
}

type streams struct {
	out io.Writer
	in  io.Reader
}

func main() {
	args := Command{}
	cli := kong.Parse(&args,
		kong.Name("backup"),
		kong.Description("Backup and recovery for the intake application."),
		kong.UsageOnError(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignals(cancel)

	logger := newLogger()
	name := commandName(cli.Command())
	err := dispatch(ctx, name, args, streams{out: os.Stdout, in: os.Stdin}, logger)
	if err != nil {
		logger.Error().Err(err).Str("command", name).Msg("command failed")
		cli.Exit(1)
	}
}

// commandName drops the positional placeholders from a kong command path,
// "recovery restore <id>" becomes "recovery restore".
func commandName(path string) string {
	words := []string{}
	for _, w := range strings.Fields(path) {
		if !strings.HasPrefix(w, "<") {
			words = append(words, w)
		}
	}
	return strings.Join(words, " ")
}

func dispatch(ctx context.Context, name string, args Command, std streams, logger zerolog.Logger) error {
	if name == "version" {
		_, err := fmt.Fprintf(std.out, "backup %s\n", version)
		return err
	}

	app, err := openApplication(args, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn().Err(err).Msg("could not close metadata database")
		}
	}()

	switch name {
	case "run":
		return runCommand(ctx, app, args, std)
	case "schedule list":
		return scheduleListCommand(ctx, app, std)
	case "schedule run":
		return scheduleRunCommand(ctx, app, std)
	case "schedule add":
		return scheduleAddCommand(ctx, app, args, std)
	case "schedule update":
		return scheduleUpdateCommand(ctx, app, args, std)
	case "schedule remove":
		return scheduleRemoveCommand(ctx, app, args, std)
	case "schedule enable":
		return scheduleEnableCommand(ctx, app, args.Schedule.Enable.ID, true, std)
	case "schedule disable":
		return scheduleEnableCommand(ctx, app, args.Schedule.Disable.ID, false, std)
	case "schedule init":
		return scheduleInitCommand(ctx, app, std)
	case "recovery list":
		return recoveryListCommand(ctx, app, args, std)
	case "recovery verify":
		return verifyCommand(ctx, app, args, std)
	case "recovery restore":
		return restoreCommand(ctx, app, args, std)
	case "recovery delete":
		return deleteCommand(ctx, app, args, std)
	case "recovery cleanup":
		return cleanCommand(ctx, app, args, std)
	case "recovery audit":
		return auditCommand(ctx, app, args, std)
	case "status":
		return statusCommand(ctx, app, args, std)
	case "daemon":
		return daemonCommand(ctx, app, args, logger)
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

func setupSignals(onSignal func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		onSignal()
	}()
}
