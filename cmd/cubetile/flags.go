package main

import "github.com/urfave/cli/v3"

var (
	configFile    string
	platformName  string
	platformsFile string
	tuneBankFile  string
	cacheSize     int64
	parallelism   int64
	logLevel      string
	logFormat     string
	debug         bool
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "config file (default: user config dir/cubetile/config.yaml)",
			Sources:     cli.EnvVars("CUBETILE_CONFIG"),
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "platform",
			Aliases:     []string{"p"},
			Usage:       "platform profile used when a descriptor names none",
			Value:       "ascend910",
			Sources:     cli.EnvVars("CUBETILE_PLATFORM"),
			Destination: &platformName,
		},
		&cli.StringFlag{
			Name:        "platforms-file",
			Usage:       "YAML file with extra platform profiles",
			Destination: &platformsFile,
		},
		&cli.StringFlag{
			Name:        "tune-bank",
			Usage:       "YAML or JSON file of pre-tuned tilings",
			Destination: &tuneBankFile,
		},
		&cli.Int64Flag{
			Name:        "cache-size",
			Usage:       "number of tiling results kept in memory (0 disables)",
			Value:       1024,
			Destination: &cacheSize,
		},
		&cli.Int64Flag{
			Name:        "parallelism",
			Aliases:     []string{"j"},
			Usage:       "concurrent tilings (0 = number of CPUs)",
			Destination: &parallelism,
		},
	}
}
