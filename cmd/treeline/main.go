package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/pprof"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/vanderheijden86/treeline/internal/datasource"
	"github.com/vanderheijden86/treeline/pkg/asynctree"
	"github.com/vanderheijden86/treeline/pkg/config"
	"github.com/vanderheijden86/treeline/pkg/ui"
	"github.com/vanderheijden86/treeline/pkg/version"
)

func main() {
	cpuProfile := flag.String("cpu-profile", "", "Write CPU profile to file")
	help := flag.Bool("help", false, "Show help")
	versionFlag := flag.Bool("version", false, "Show version")
	rootName := flag.String("root", "", "Open the configured root with this name")
	showHidden := flag.Bool("show-hidden", false, "Show dotfiles (fs roots)")
	noWatch := flag.Bool("no-watch", false, "Disable filesystem watching")
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	if *help {
		fmt.Println("Usage: treeline [options] [path]")
		fmt.Println("\nA TUI tree browser for directories and SQLite hierarchies.")
		fmt.Println("With a path argument, browses that directory. With --root,")
		fmt.Println("opens a root registered in the config file.")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *versionFlag {
		fmt.Printf("treeline %s\n", version.Version)
		os.Exit(0)
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "treeline requires an interactive terminal")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *showHidden {
		cfg.UI.ShowHidden = true
	}
	if *noWatch {
		cfg.Watch.Disabled = true
	}

	root, err := resolveRoot(cfg, *rootName, flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	provider, input, cleanup, err := openProvider(cfg, root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	app := ui.NewApp(&cfg, root, provider, input)
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveRoot picks the root to open: --root looks it up in the config, a
// path argument makes an ad-hoc fs root, and with neither the current
// directory is browsed.
func resolveRoot(cfg config.Config, name, arg string) (config.Root, error) {
	if name != "" {
		r := cfg.FindRoot(name)
		if r == nil {
			return config.Root{}, fmt.Errorf("no configured root named %q", name)
		}
		out := *r
		if out.Driver == "" {
			out.Driver = "fs"
		}
		return out, nil
	}

	path := arg
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return config.Root{}, fmt.Errorf("resolving working directory: %w", err)
		}
		path = wd
	}
	return config.Root{Name: path, Path: path, Driver: "fs"}, nil
}

func openProvider(cfg config.Config, root config.Root) (asynctree.ChildrenProvider[datasource.Entry], datasource.Entry, func(), error) {
	switch root.Driver {
	case "sqlite":
		p, err := datasource.OpenSQLite(root.ResolvedPath())
		if err != nil {
			return nil, datasource.Entry{}, nil, err
		}
		return p, p.Root(), func() { p.Close() }, nil

	case "", "fs":
		var opts []datasource.FSOption
		if cfg.UI.ShowHidden {
			opts = append(opts, datasource.WithShowHidden(true))
		}
		p, err := datasource.NewFSProvider(root.ResolvedPath(), opts...)
		if err != nil {
			return nil, datasource.Entry{}, nil, err
		}
		return p, p.Root(), func() {}, nil

	default:
		return nil, datasource.Entry{}, nil, fmt.Errorf("unknown driver %q for root %q", root.Driver, root.Name)
	}
}
