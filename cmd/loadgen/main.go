// Command loadgen publishes synthetic score submissions to Kafka.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/events"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func playerName(idx int) string {
	return fmt.Sprintf("%s%d", playerPrefixes[idx%len(playerPrefixes)], idx/len(playerPrefixes)+1)
}

type generator struct {
	players    int
	botShare   float64
	tournament string
	rng        *rand.Rand
}

// next builds one submission. Bots replay one fixed score so the detector
// flags them even though each game passes validation.
func (g *generator) next(now time.Time) domain.PendingScoreSubmission {
	idx := g.rng.Intn(g.players)
	sub := domain.PendingScoreSubmission{
		ID:           uuid.New().String(),
		PlayerID:     fmt.Sprintf("player-%05d", idx),
		DisplayName:  playerName(idx),
		AchievedAt:   now,
		TournamentID: g.tournament,
		Status:       domain.SubmissionPending,
		CreatedAt:    now,
	}

	var duration int64
	if float64(idx) < float64(g.players)*g.botShare {
		sub.Score = 99_999
		duration = int64(12_000 + g.rng.Intn(8_000))
	} else {
		sub.Score = int64(200 + g.rng.Intn(4_800))
		duration = int64(30_000 + g.rng.Intn(270_000))
	}
	sub.GameDurationMs = &duration

	if g.rng.Intn(4) == 0 {
		friend := g.rng.Intn(g.players)
		if friend != idx {
			sub.FriendIDs = []string{fmt.Sprintf("player-%05d", friend)}
		}
	}
	return sub
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "game-events", "Kafka topic")
	totalPlayers := flag.Int("players", 1000, "Number of distinct players")
	rate := flag.Int("rate", 100, "Submissions per second")
	botShare := flag.Float64("bot-share", 0.02, "Share of players behaving like bots")
	tournament := flag.String("tournament", "", "Tournament id attached to every submission")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *rate <= 0 || *totalPlayers <= 0 {
		logger.Error("rate and players must be positive")
		os.Exit(2)
	}

	fmt.Printf("  Brokers:     %s\n", *brokers)
	fmt.Printf("  Topic:       %s\n", *topic)
	fmt.Printf("  Players:     %d (bots: %.1f%%)\n", *totalPlayers, *botShare*100)
	fmt.Printf("  Rate:        %d/sec\n", *rate)
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		logger.Error("failed to create producer", "error", err)
		os.Exit(1)
	}

	var sent, failed atomic.Int64
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			sent.Add(1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			failed.Add(1)
			logger.Warn("producer error", "error", err)
		}
	}()

	gen := &generator{
		players:    *totalPlayers,
		botShare:   *botShare,
		tournament: *tournament,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	publish := func(now time.Time) {
		sub := gen.next(now)
		env, err := events.New(events.TypeScoreSubmitted, sub.PlayerID, events.ScoreSubmitted{Submission: sub}, now)
		if err != nil {
			logger.Error("failed to build envelope", "error", err)
			return
		}
		data, err := json.Marshal(env)
		if err != nil {
			logger.Error("failed to marshal envelope", "error", err)
			return
		}
		producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(env.Key),
			Value: sarama.ByteEncoder(data),
		}
	}

	shutdown := func(reason string) {
		logger.Info("shutting down", "reason", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\nCompleted. Sent: %d, Errors: %d\n", sent.Load(), failed.Load())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	var generated int64
	for {
		select {
		case <-sigChan:
			shutdown("signal")
			return
		case <-deadline:
			shutdown("duration reached")
			return
		case now := <-ticker.C:
			publish(now.UTC())
			generated++
		case <-statsTicker.C:
			fmt.Printf("[%s] Generated: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"), generated, sent.Load(), failed.Load())
		}
	}
}
