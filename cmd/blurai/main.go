package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/blurai"
	"github.com/menta2k/blurai/internal/config"
	"github.com/menta2k/blurai/internal/logging"
	"github.com/menta2k/blurai/internal/utils"
	"github.com/menta2k/blurai/pkg/effects"
	"github.com/menta2k/blurai/pkg/overlay"
	"github.com/menta2k/blurai/pkg/types"
	"github.com/menta2k/blurai/pkg/upload"
)

func main() {
	var cfgPath, url, backend, model, outDir, logLevel string
	var in, effect, target, preview string
	var hd, initCfg bool

	flag.StringVar(&cfgPath, "config", config.GetConfigPath(), "configuration file (YAML)")
	flag.StringVar(&url, "url", "", "BlurAI service URL (overrides config)")
	flag.StringVar(&backend, "backend", "", "detector backend: service, ollama or llamacpp")
	flag.StringVar(&model, "model", "", "vision model for the ollama/llamacpp backends")
	flag.StringVar(&outDir, "out", "", "download directory")
	flag.StringVar(&logLevel, "log", "", "log level: debug, info, warn, error")

	flag.StringVar(&in, "in", "", "image path or URL to process in one-shot mode (jpg/png)")
	flag.StringVar(&effect, "effect", "", "effect for one-shot mode: blur_faces, blur_plates, blur, delete, crop, square")
	flag.StringVar(&target, "target", "", "object class to select in one-shot mode")
	flag.StringVar(&preview, "preview", "", "write a preview of the result to this path in one-shot mode")
	flag.BoolVar(&hd, "hd", false, "download the high-resolution variant in one-shot mode")
	flag.BoolVar(&initCfg, "init", false, "write the default configuration to -config and exit")

	flag.Parse()

	if initCfg {
		if err := config.Default().SaveToFile(cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", cfgPath)
		return
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if url != "" {
		cfg.Service.BaseURL = url
	}
	if backend != "" {
		cfg.Detector.Backend = backend
	}
	if model != "" {
		cfg.Detector.Model = model
	}
	if outDir != "" {
		cfg.Download.OutputDir = outDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &syncWriter{w: os.Stdout}
	app, err := blurai.New(cfg, log, blurai.WithObserver(&printer{w: out}))
	if err != nil {
		log.Fatal(err)
	}
	go app.Run(ctx)

	if err := app.Health(ctx); err != nil {
		log.WithError(err).Warnf("service at %s is not healthy", cfg.Service.BaseURL)
	}

	if in != "" {
		if err := oneShot(ctx, app, log, out, in, target, effect, preview, hd); err != nil {
			log.Fatal(err)
		}
		return
	}

	fmt.Fprintf(out, "BlurAI client %s, service %s. Type \"help\" for commands.\n", blurai.Version, cfg.Service.BaseURL)
	repl(ctx, app, log, os.Stdin, out)
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if utils.FileExists(path) {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func oneShot(ctx context.Context, app *blurai.App, log logrus.FieldLogger, out io.Writer, in, target, effect, preview string, hd bool) error {
	files, err := upload.Load(ctx, nil, in)
	if err != nil {
		return err
	}
	res, err := app.Upload(ctx, files)
	if err != nil {
		return err
	}
	printDetections(out, res.Detections)

	if target != "" {
		if err := app.Select(ctx, target); err != nil {
			return errors.Wrapf(err, "select %q", target)
		}
		if _, _, err := app.Hover(ctx, target); err != nil {
			return err
		}
	}
	if effect == "" {
		if preview != "" {
			return app.Preview(ctx, preview)
		}
		return nil
	}

	ref, err := app.ApplyNamedEffect(ctx, effect)
	if err != nil {
		return err
	}
	log.WithField("processed", ref.Name).Info("effect applied")

	if preview != "" {
		if err := app.Preview(ctx, preview); err != nil {
			return err
		}
	}
	path, err := app.Download(ctx, hd)
	if err != nil {
		return err
	}
	printSaved(out, path)
	return nil
}

// repl reads commands from in. Background commands, the prompt and the session observer
// all write to out, so it must be safe for concurrent use; see syncWriter.
func repl(ctx context.Context, app *blurai.App, log logrus.FieldLogger, in io.Reader, out io.Writer) {
	var wg sync.WaitGroup
	defer wg.Wait()

	// network-bound commands run in the background so the prompt stays responsive
	background := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				log.WithError(err).Errorf("%s failed", name)
			}
		}()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = l
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		arg := strings.Join(args, " ")

		switch cmd {
		case "upload":
			if arg == "" {
				fmt.Fprintln(out, "usage: upload <path|URL>")
				continue
			}
			background("upload", func() error {
				files, err := upload.Load(ctx, nil, arg)
				if err != nil {
					return err
				}
				res, err := app.Upload(ctx, files)
				if err != nil {
					return err
				}
				printDetections(out, res.Detections)
				return nil
			})
		case "list":
			snap, err := app.Snapshot(ctx)
			if err != nil {
				return
			}
			printDetections(out, snap.Detections)
		case "select":
			if err := app.Select(ctx, arg); err != nil {
				fmt.Fprintf(out, "select: %v\n", err)
			}
		case "hover":
			rect, ok, err := app.Hover(ctx, arg)
			switch {
			case err != nil:
				return
			case ok:
				fmt.Fprintf(out, "highlight %.0f,%.0f %.0fx%.0f\n", rect.Left, rect.Top, rect.Width, rect.Height)
			default:
				fmt.Fprintln(out, "nothing to highlight")
			}
		case "leave":
			if err := app.Leave(ctx); err != nil {
				return
			}
		case "effect":
			if arg == "" {
				fmt.Fprintf(out, "usage: effect <%s>\n", effectNames())
				continue
			}
			background("effect", func() error {
				ref, err := app.ApplyNamedEffect(ctx, arg)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "processed image %s\n", ref.Name)
				return nil
			})
		case "download":
			background("download", func() error {
				switch arg {
				case "all":
					standard, hd, err := app.DownloadAll(ctx)
					if err != nil {
						return err
					}
					printSaved(out, standard)
					printSaved(out, hd)
				default:
					path, err := app.Download(ctx, arg == "hd")
					if err != nil {
						return err
					}
					printSaved(out, path)
				}
				return nil
			})
		case "preview":
			if arg == "" {
				fmt.Fprintln(out, "usage: preview <path>")
				continue
			}
			background("preview", func() error { return app.Preview(ctx, arg) })
		case "status":
			snap, err := app.Snapshot(ctx)
			if err != nil {
				return
			}
			printStatus(out, app, snap.BaseImage, snap.ProcessedImage, snap.SelectedClass, snap.HoveredClass)
		case "help":
			printHelp(out)
		case "quit", "exit":
			return
		default:
			fmt.Fprintf(out, "unknown command %q, type \"help\"\n", cmd)
		}
	}
}

func effectNames() string {
	var names []string
	for _, k := range effects.GlobalKinds() {
		names = append(names, string(k))
	}
	for _, k := range effects.ObjectKinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, "|")
}

func printDetections(w io.Writer, dets []types.Detection) {
	if len(dets) == 0 {
		fmt.Fprintln(w, "no objects detected")
		return
	}
	for i, d := range dets {
		fmt.Fprintf(w, "%2d. %-16s %3.0f%%  %.0f,%.0f %.0fx%.0f\n",
			i+1, d.Class, d.Confidence*100, d.BBox[0], d.BBox[1], d.Size.Width, d.Size.Height)
	}
}

func printSaved(w io.Writer, path string) {
	if path == "" {
		fmt.Fprintln(w, "nothing to download, apply an effect first")
		return
	}
	fmt.Fprintf(w, "saved %s\n", path)
}

func printStatus(w io.Writer, app *blurai.App, base, processed types.ImageRef, selected, hovered string) {
	show := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}
	uploading, applying, standard, hd := app.Busy()
	fmt.Fprintf(w, "image:     %s\n", show(base.Name))
	fmt.Fprintf(w, "processed: %s\n", show(processed.Name))
	fmt.Fprintf(w, "selected:  %s\n", show(selected))
	fmt.Fprintf(w, "hovered:   %s\n", show(hovered))
	fmt.Fprintf(w, "busy:      upload=%v effect=%v download=%v download-hd=%v\n", uploading, applying, standard, hd)
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, `commands:
  upload <path|URL>    upload a jpg/png image and list detected objects
  list                 list detected objects
  select <class>       select an object class (again to deselect)
  hover <class>        highlight the first object of a class
  leave                clear the highlight
  effect <kind>        apply an effect: %s
  download [hd|all]    save the processed image
  preview <path>       write the current image with the highlight
  status               show the session
  quit                 exit
`, effectNames())
}

// syncWriter serializes writes from the prompt loop, background commands and the observer
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// printer reports session changes on the terminal
type printer struct {
	w io.Writer
}

func (p *printer) OverlayChanged(rect overlay.Rect, ok bool) {}

func (p *printer) ToolsChanged(enabled bool) {
	if enabled {
		fmt.Fprintf(p.w, "object tools enabled: %s\n", strings.Join(objectKindNames(), ", "))
	} else {
		fmt.Fprintln(p.w, "object tools disabled")
	}
}

func (p *printer) ImageChanged(ref types.ImageRef) {
	fmt.Fprintf(p.w, "showing %s\n", ref.Name)
}

func objectKindNames() []string {
	var names []string
	for _, k := range effects.ObjectKinds() {
		names = append(names, string(k))
	}
	return names
}
