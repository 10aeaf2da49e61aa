package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"live-quiz-service/internal/client"
	"live-quiz-service/internal/logging"
	"live-quiz-service/internal/player"
)

type playOptions struct {
	server    string
	pin       string
	nickname  string
	avatarURL string
	logLevel  string
}

// NewPlayCmd joins a session as a terminal player.
func NewPlayCmd(port *string) *cobra.Command {
	opts := playOptions{}
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a game as a player from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.server == "" {
				opts.server = "http://localhost:" + *port
			}
			return runPlay(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "server base URL (default http://localhost:<port>)")
	cmd.Flags().StringVar(&opts.pin, "pin", "", "six digit join code")
	cmd.Flags().StringVar(&opts.nickname, "nickname", "", "name shown on the leaderboard")
	cmd.Flags().StringVar(&opts.avatarURL, "avatar", "", "avatar image URL")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level")
	_ = cmd.MarkFlagRequired("pin")
	_ = cmd.MarkFlagRequired("nickname")
	return cmd
}

func runPlay(ctx context.Context, opts playOptions, in io.Reader, out io.Writer) error {
	log := logging.New(opts.logLevel, "text")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	joined, err := client.Join(ctx, nil, opts.server, opts.pin, opts.nickname, opts.avatarURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Joined as %s. Waiting for the host...\n", joined.Player.Nickname)

	cl, err := client.New(opts.server, joined.Token, log)
	if err != nil {
		return err
	}
	defer cl.Close()

	view := player.NewView(joined.Player.ID, cl, log)
	lines := readLines(in)
	r := &renderer{out: out}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return view.Follow(gctx, cl)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-view.Changes():
				r.render(view.State())
			case line, ok := <-lines:
				if !ok {
					lines = nil
					continue
				}
				submit(gctx, view, line, out)
			}
		}
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	r.render(view.State())
	return nil
}

func submit(ctx context.Context, view *player.View, line string, out io.Writer) {
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 {
		fmt.Fprintln(out, "Type the number of an answer.")
		return
	}
	ok, err := view.Submit(ctx, n-1)
	switch {
	case err != nil:
		fmt.Fprintf(out, "Answer not recorded: %v\n", err)
	case ok:
		fmt.Fprintf(out, "Answer locked in after %.1fs.\n", view.Elapsed().Seconds())
	default:
		fmt.Fprintln(out, "Not accepting an answer right now.")
	}
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// renderer prints a screen whenever the stage, question, score or answer
// outcome changes. Timer ticks alone are not worth a redraw.
type renderer struct {
	out      io.Writer
	last     player.Stage
	question int
	score    int
	scored   bool
	drawn    bool
}

func (r *renderer) render(state player.State) {
	scored := state.Result != nil
	if r.drawn && state.Stage == r.last && state.QuestionIndex == r.question && state.Score == r.score && scored == r.scored {
		return
	}
	r.drawn = true
	r.last, r.question, r.score, r.scored = state.Stage, state.QuestionIndex, state.Score, scored

	switch state.Stage {
	case player.StageWaiting:
		fmt.Fprintf(r.out, "In the lobby with %d players.\n", len(state.Players))
	case player.StageAnswering:
		if state.Question == nil {
			fmt.Fprintf(r.out, "Question %d is running.\n", state.QuestionIndex+1)
			return
		}
		fmt.Fprintf(r.out, "\nQ%d: %s (%ds)\n", state.QuestionIndex+1, state.Question.Text, state.TimeRemaining)
		for i, answer := range state.Question.Answers {
			fmt.Fprintf(r.out, "  %d) %s\n", i+1, answer)
		}
	case player.StageSubmitted:
		fmt.Fprintln(r.out, "Waiting for the results...")
	case player.StageViewingResults, player.StageFinished:
		if state.Stage == player.StageFinished {
			fmt.Fprintln(r.out, "\nGame over!")
		} else if q := state.Question; q != nil && q.CorrectIndex != nil && *q.CorrectIndex < len(q.Answers) {
			fmt.Fprintf(r.out, "Correct answer: %s\n", q.Answers[*q.CorrectIndex])
			if res := state.Result; res != nil && res.Correct {
				fmt.Fprintf(r.out, "Correct! +%d\n", res.Awarded)
			} else if res != nil {
				fmt.Fprintln(r.out, "Wrong answer.")
			}
		}
		fmt.Fprintf(r.out, "Your score: %d\n", state.Score)
		for i, p := range state.Players {
			fmt.Fprintf(r.out, "  %d. %-20s %d\n", i+1, p.Nickname, p.Score)
		}
	}
}
