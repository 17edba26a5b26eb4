package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"portraitStudio/internal/auth"
	"portraitStudio/internal/backend"
	"portraitStudio/internal/config"
	"portraitStudio/internal/jobs"
	"portraitStudio/internal/logging"
)

const usage = `用法: studio [-o json|yaml] [-v] <command> [args]

账号:
  login       -email E [-password P] | -provider google|github -token T
  signup      -username U -email E [-password P] [-confirm P]
  logout
  whoami

任务:
  tts         -text T [-speed 15] [-language en-us] [-pitch 20] [-emotion a,b,c,d,e,f,g,h]
  age         -image URL|-file PATH -age N [-project ID]
  background  -foreground URL -background URL|-file PATH [-project ID]

项目:
  projects    list | active | get ID | create -name N [-id ID] | rename ID NAME | complete ID
  video       ID
  upload      [-project ID] FILE...
  bucket      list ID | clear ID -field image|audio|video
`

// app 持有 CLI 各命令共享的客户端。
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	session *auth.Session
	backend *backend.Client
	jobs    *jobs.Client
	http    *http.Client
	printer printer
	stdin   *bufio.Reader
	stderr  io.Writer
	now     func() time.Time
}

func main() {
	_ = godotenv.Load()

	format := flag.String("o", "json", "输出格式：json 或 yaml")
	verbose := flag.Bool("v", false, "输出调试日志")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	p, err := newPrinter(*format, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	a := newApp(cfg, logging.NewTo(cfg.Log, os.Stderr), p)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.dispatch(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(cfg *config.Config, logger *slog.Logger, p printer) *app {
	identity := auth.NewIdentityClient(cfg.Identity, logger)
	// 同步接口直接携带登录返回的 ID Token，不需要 TokenSource。
	syncer := backend.NewClient(cfg.Backend, nil, logger)
	session := auth.NewSession(cfg.Identity, identity, syncer, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		session: session,
		backend: backend.NewClient(cfg.Backend, session, logger),
		jobs:    jobs.NewClient(cfg.Jobs, session, logger),
		http:    &http.Client{Timeout: 2 * time.Minute},
		printer: p,
		stdin:   bufio.NewReader(os.Stdin),
		stderr:  os.Stderr,
		now:     time.Now,
	}
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch strings.ToLower(cmd) {
	case "login":
		return a.login(ctx, args)
	case "signup":
		return a.signup(ctx, args)
	case "logout":
		return a.logout()
	case "whoami":
		return a.whoami()
	case "tts", "speech":
		return a.runSpeech(ctx, args)
	case "age":
		return a.runAge(ctx, args)
	case "background", "bg":
		return a.runBackground(ctx, args)
	case "projects", "project":
		return a.projects(ctx, args)
	case "video":
		return a.video(ctx, args)
	case "upload":
		return a.upload(ctx, args)
	case "bucket":
		return a.bucket(ctx, args)
	case "help":
		fmt.Fprint(a.stderr, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q (see studio help)", cmd)
	}
}

// prompt 在 flag 缺省时从标准输入读取一行。
func (a *app) prompt(label string) (string, error) {
	fmt.Fprintf(a.stderr, "%s: ", label)
	line, err := a.stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
