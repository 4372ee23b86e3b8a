package main

import (
	"flag"
	"log"

	"github.com/frclink/dsctl/internal/config"
)

func main() {
	kind := flag.String("kind", "station", "config kind: station|driver")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			switch *kind {
			case "station":
				path = "cmd/stationctl/config.toml"
			case "driver":
				path = "settings.toml"
			default:
				log.Fatalf("unknown kind: %s", *kind)
			}
		}

		switch *kind {
		case "station":
			if _, err := config.LoadStationConfig(path); err != nil {
				log.Fatal(err)
			}
		case "driver":
			if _, err := config.LoadDriverConfig(path); err != nil {
				log.Fatal(err)
			}
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "station":
			target = "cmd/stationctl/config.toml"
		case "driver":
			target = "settings.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
