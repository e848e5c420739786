// Package main provides the pomobox control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/pomobox/internal/api/connect"
)

var (
	app    = kingpin.New("pomobox-ctl", "pomobox control client")
	server = app.Flag("server", "Server address").Default("http://127.0.0.1:8717").Envar("POMOBOX_SERVER").String()
	token  = app.Flag("token", "Control token (or set POMOBOX_TOKEN env)").Envar("POMOBOX_TOKEN").String()

	statusCmd = app.Command("status", "Show timer, playback and playlists")
	startCmd  = app.Command("start", "Start the timer")
	pauseCmd  = app.Command("pause", "Pause the timer")
	toggleCmd = app.Command("toggle", "Start or pause the session")
	resetCmd  = app.Command("reset", "Reset the timer and clear both playlists")

	modeCmd   = app.Command("mode", "Switch mode while paused")
	modePhase = modeCmd.Arg("phase", "work or break").Required().Enum("work", "break")

	nextCmd = app.Command("next", "Skip to the next item").Alias("skip")
	prevCmd = app.Command("prev", "Restart the current item or go back one")

	addCmd       = app.Command("add", "Add files or URLs to a playlist")
	addPhase     = addCmd.Flag("phase", "Target playlist").Default("work").Enum("work", "break")
	addAudioOnly = addCmd.Flag("audio-only", "Download URLs as mp3").Bool()
	addInput     = addCmd.Arg("input", "Paths or URLs; commas separate several").Required().Strings()

	shuffleCmd   = app.Command("shuffle", "Shuffle a playlist")
	shufflePhase = shuffleCmd.Arg("phase", "work or break").Default("work").Enum("work", "break")

	clearCmd   = app.Command("clear", "Empty a playlist")
	clearPhase = clearCmd.Arg("phase", "work or break").Default("work").Enum("work", "break")

	setCmd      = app.Command("set", "Change settings")
	setWorkMin  = setCmd.Flag("work-min", "Work duration in minutes").IsSetByUser(&workMinSet).Int()
	setBreakMin = setCmd.Flag("break-min", "Break duration in minutes").IsSetByUser(&breakMinSet).Int()
	setVolume   = setCmd.Flag("volume", "Volume 0-100").IsSetByUser(&volumeSet).Int()
	setOnTop    = setCmd.Flag("on-top", "Keep the video window on top").IsSetByUser(&onTopSet).Bool()

	volumeCmd   = app.Command("volume", "Step the volume up or down")
	volumeDelta = volumeCmd.Arg("direction", "up or down").Required().Enum("up", "down")

	seekCmd     = app.Command("seek", "Seek relative to the current position")
	seekSeconds = seekCmd.Arg("seconds", "Offset in seconds, negative to rewind").Required().Float64()

	watchCmd = app.Command("watch", "Stream session events")
)

// Set by kingpin when the matching flag was given.
var workMinSet, breakMinSet, volumeSet, onTopSet bool

// volumeStep matches the step of the volume keys.
const volumeStep = 5

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)
	ctx := context.Background()

	switch command {
	case statusCmd.FullCommand():
		status(ctx, client)
	case startCmd.FullCommand():
		printAction(client.Start(ctx))
	case pauseCmd.FullCommand():
		printAction(client.Pause(ctx))
	case toggleCmd.FullCommand():
		printAction(client.Toggle(ctx))
	case resetCmd.FullCommand():
		printAction(client.Reset(ctx))
	case modeCmd.FullCommand():
		printAction(client.SwitchMode(ctx, *modePhase))
	case nextCmd.FullCommand():
		printAction(client.SkipForward(ctx))
	case prevCmd.FullCommand():
		printAction(client.SkipBack(ctx))
	case addCmd.FullCommand():
		add(ctx, client)
	case shuffleCmd.FullCommand():
		printAction(client.Shuffle(ctx, *shufflePhase))
	case clearCmd.FullCommand():
		printAction(client.ResetPlaylist(ctx, *clearPhase))
	case setCmd.FullCommand():
		printAction(client.UpdateSettings(ctx, settingsRequest()))
	case volumeCmd.FullCommand():
		delta := volumeStep
		if *volumeDelta == "down" {
			delta = -volumeStep
		}
		printAction(client.UpdateSettings(ctx, &apiconnect.UpdateSettingsRequest{VolumeDelta: &delta}))
	case seekCmd.FullCommand():
		printAction(client.SeekRelative(ctx, int64(*seekSeconds*1000)))
	case watchCmd.FullCommand():
		watch(ctx, client)
	}
}

// settingsRequest only carries the flags given on the command line.
func settingsRequest() *apiconnect.UpdateSettingsRequest {
	req := &apiconnect.UpdateSettingsRequest{}
	if workMinSet {
		seconds := *setWorkMin * 60
		req.WorkSeconds = &seconds
	}
	if breakMinSet {
		seconds := *setBreakMin * 60
		req.BreakSeconds = &seconds
	}
	if volumeSet {
		req.Volume = setVolume
	}
	if onTopSet {
		req.AlwaysOnTop = setOnTop
	}
	return req
}

func printAction(resp *apiconnect.ActionResponse, err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if resp.Success {
		fmt.Println(resp.Message)
	} else {
		fmt.Printf("Failed: %s\n", resp.Message)
		os.Exit(1)
	}
}

func status(ctx context.Context, client *apiconnect.Client) {
	s, err := client.GetStatus(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n=== CURRENT SESSION STATUS ===")
	fmt.Printf("Mode: %s (%s)\n", s.Phase, s.RunState)
	fmt.Printf("Remaining: %s\n", formatClock(s.Remaining))
	fmt.Printf("Durations: work %s, break %s\n", formatClock(s.WorkSeconds), formatClock(s.BreakSeconds))
	fmt.Printf("Volume: %d%%  Always on top: %v\n", s.Volume, s.AlwaysOnTop)

	if s.Current != "" {
		fmt.Printf("\nCurrent media (%s): %s\n", s.Playback, s.Current)
	} else {
		fmt.Println("\nNo media loaded")
	}

	printPlaylist("Work playlist", s.WorkPlaylist, s.Current)
	printPlaylist("Break playlist", s.BreakPlaylist, s.Current)

	if s.DownloadActive != "" || len(s.DownloadPending) > 0 {
		fmt.Println("\nDownloads:")
		if s.DownloadActive != "" {
			fmt.Printf("  active: %s\n", s.DownloadActive)
		}
		for _, url := range s.DownloadPending {
			fmt.Printf("  queued: %s\n", url)
		}
	}
	if s.Message != "" {
		fmt.Printf("\n%s\n", s.Message)
	}
	fmt.Println()
}

func printPlaylist(title string, items []string, current string) {
	fmt.Printf("\n%s (%d):\n", title, len(items))
	for i, item := range items {
		marker := " "
		if item == current {
			marker = ">"
		}
		fmt.Printf(" %s %2d. %s\n", marker, i+1, item)
	}
}

func add(ctx context.Context, client *apiconnect.Client) {
	resp, err := client.AddMedia(ctx, &apiconnect.AddMediaRequest{
		Phase:     *addPhase,
		Input:     strings.Join(*addInput, ","),
		AudioOnly: *addAudioOnly,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Added %d item(s) to the %s playlist\n", len(resp.Added), *addPhase)
	for _, ref := range resp.Added {
		fmt.Printf("  %s\n", ref)
	}
}

func watch(ctx context.Context, client *apiconnect.Client) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := client.WatchEvents(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	fmt.Println("Watching session events. Press Ctrl+C to exit.")

	for stream.Receive() {
		printEvent(stream.Msg())
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func printEvent(ev *apiconnect.EventMessage) {
	prefix := fmt.Sprintf("[%d] %s %s %s", ev.SequenceNo, ev.At.Local().Format("15:04:05"), ev.Phase, formatClock(ev.Remaining))
	switch ev.Type {
	case apiconnect.EventTypeInitialState:
		fmt.Printf("%s === INITIAL STATE ===\n", prefix)
		if ev.Status != nil && ev.Status.Current != "" {
			fmt.Printf("  current: %s\n", ev.Status.Current)
		}
	case "tick":
		fmt.Printf("\r%s", prefix)
	case "download_progress", "download_started", "download_finished", "download_failed":
		fmt.Printf("\n%s %s\n", prefix, ev.Message)
	case "media_started":
		fmt.Printf("\n%s playing %s (from %dms)\n", prefix, ev.Media, ev.OffsetMs)
	default:
		fmt.Printf("\n%s %s\n", prefix, ev.Type)
	}
}

// formatClock renders seconds as MM:SS.
func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
