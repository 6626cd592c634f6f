package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/bugsnag/bugsnag-go"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Guess34/guildpost"
)

func main() {
	// .env is optional; flags and real env vars win over it.
	_ = godotenv.Load()

	bugsnag.Configure(bugsnag.Configuration{
		APIKey:          getEnv("BUGSNAG_API_KEY", ""),
		ProjectPackages: []string{"main", "github.com/Guess34/guildpost"},
	})

	identityPtr := flag.String("identity", getEnv("GUILDPOST_IDENTITY", ""), "character name used as peer identity")
	storePathPtr := flag.String("store", getEnv("GUILDPOST_STORE", defaultStorePath()), "path to the shared blob store file")
	groupPtr := flag.String("group", getEnv("GUILDPOST_GROUP", ""), "group id to sync (defaults to the saved active group)")
	metricsAddrPtr := flag.String("metrics-addr", getEnv("GUILDPOST_METRICS_ADDR", ""), "expose prometheus metrics on this address (e.g. :9180)")
	showRosterPtr := flag.Bool("show-roster", true, "periodically print the group roster")
	refreshRatePtr := flag.Int("refresh-rate", 300, "roster refresh rate in seconds")
	verbosePtr := flag.Bool("verbose", false, "log debug stuff")

	flag.Parse()

	if *verbosePtr {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if *identityPtr == "" {
		logrus.Fatal("an -identity is required (your character name)")
	}

	store, err := guildpost.OpenFileStore(*storePathPtr)
	if err != nil {
		logrus.Fatalf("cannot open store at %s: %v", *storePathPtr, err)
	}

	// Stand-alone client runs have no ambient game-world feed, so the
	// local player is the only peer known to be online. The real client
	// replaces this with the world-visibility collaborator.
	online := guildpost.OnlineSet{strings.ToLower(*identityPtr): true}

	peer := guildpost.NewLocalPeer(*identityPtr, store, online)

	if *metricsAddrPtr != "" {
		peer.Metrics.Serve(*metricsAddrPtr)
	}

	if *groupPtr != "" {
		peer.Groups.SetActiveGroup(peer.Identity, *groupPtr)
	}
	peer.Start()
	logrus.Infof("🛡️  guildpost running as %s (store: %s)", peer.Identity, *storePathPtr)

	if *showRosterPtr {
		go printRosterForever(peer, online, *refreshRatePtr)
	}

	setupCloseHandler(peer)

	// sleep forever while goroutines do their thing
	for {
		time.Sleep(10 * time.Millisecond)
		runtime.Gosched()
	}
}

func printRosterForever(peer *guildpost.LocalPeer, online guildpost.OnlineStatus, refreshRate int) {
	inspector := guildpost.NewInspector(peer, online, os.Stdout)
	for {
		if groupID := peer.Groups.ActiveGroup(peer.Identity); groupID != "" {
			if err := inspector.PrintRoster(groupID); err != nil {
				logrus.Debugf("roster: %v", err)
			}
			inspector.PrintAudit(10)
		}
		time.Sleep(time.Duration(refreshRate) * time.Second)
	}
}

func setupCloseHandler(peer *guildpost.LocalPeer) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("logging off")
		peer.Stop()
		os.Exit(0)
	}()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "guildpost-store.json"
	}
	return filepath.Join(home, ".guildpost", "store.json")
}
