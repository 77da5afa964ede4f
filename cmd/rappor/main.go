//
// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// This is a command line utility running the RAPPOR tools.
// Usage examples:
// go run ./cmd/rappor --tool=gen_input --dist=exp --num_clients=100000 --output_file=true_values.csv
// go run ./cmd/rappor --tool=assign_cohorts --params_file=params.csv --input_file=true_values.csv --output_file=values.csv
// go run ./cmd/rappor --tool=sim --params_file=params.csv --input_file=values.csv --output_file=reports.csv
// go run ./cmd/rappor --tool=sum_bits --params_file=params.csv --input_file=reports.csv --output_file=counts.csv
// go run ./cmd/rappor --tool=hash_candidates --params_file=params.csv --input_file=candidates.txt --output_file=map.csv
// go run ./cmd/rappor --tool=plot --input_file=counts.csv --output_file=bits.png
// Input and output files may be local paths or gs:// objects.
package main

import (
	"context"
	"flag"
	"strconv"
	"strings"

	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	log "github.com/golang/glog"
	"github.com/google/rappor/simulation"
	"github.com/google/rappor/tools"
)

var (
	tool = flag.String("tool", "", "Tool ID:\n"+
		"sum_bits - per-cohort bit counts of single-variable reports.\n"+
		"sum_bits_assoc - joint and marginal counts of two-variable reports.\n"+
		"sharded_sum_bits - sum_bits over several report files in parallel.\n"+
		"hash_candidates - map candidate strings to Bloom filter bits.\n"+
		"gen_input - generate true values of simulated clients.\n"+
		"assign_cohorts - give simulated clients a cohort.\n"+
		"sim - encode simulated clients into reports.\n"+
		"sim_assoc - encode two values per simulated client into reports.\n"+
		"plot - plot the output of sum_bits.")

	paramsFile  = flag.String("params_file", "", "Params csv file (k,h,m,p,q,f).")
	paramsFile2 = flag.String("params_file2", "", "Params csv file of the second variable for sum_bits_assoc. Defaults to --params_file.")
	inputFile   = flag.String("input_file", "", "Input file name.")
	inputFiles  = flag.String("input_files", "", "Comma-separated report files for sharded_sum_bits.")
	outputFile  = flag.String("output_file", "", "Output file name.")

	jointOutputFile     = flag.String("joint_output_file", "", "Output csv file name for the joint counts of sum_bits_assoc.")
	marginal1OutputFile = flag.String("marginal1_output_file", "", "Output csv file name for the counts of the first variable of sum_bits_assoc.")
	marginal2OutputFile = flag.String("marginal2_output_file", "", "Output csv file name for the counts of the second variable of sum_bits_assoc.")

	format      = flag.String("format", tools.CSVFormat, "Output format of sum_bits and sharded_sum_bits: csv or json.")
	useBeam     = flag.Bool("use_beam", false, "Run sum_bits or sum_bits_assoc as a Beam pipeline.")
	snapshotDir = flag.String("snapshot_dir", "", "Directory or gs:// prefix for the shard snapshots of sharded_sum_bits.")
	parallelism = flag.Int("parallelism", 0, "Maximum number of shards aggregated at once. 0 means no limit.")

	randomMode    = flag.String("random_mode", simulation.FastMode, "Randomness of simulated clients: secure or fast.")
	seed          = flag.Uint64("seed", 0, "Seed of simulations. 0 picks a random seed.")
	randomSecrets = flag.Bool("random_secrets", false, "Give simulated clients random secrets instead of their client id.")

	dist            = flag.String("dist", simulation.Exponential, "Distribution of simulated values: exp, gauss or unif.")
	distParam       = flag.Float64("dist_param", 0, "Standard deviation for gauss, rate for exp. 0 picks a default.")
	numUniqueValues = flag.Int("num_unique_values", 100, "Number of unique simulated values.")
	numClients      = flag.Int("num_clients", 100000, "Number of simulated clients.")
	valuesPerClient = flag.Int("values_per_client", 1, "Number of values per simulated client.")
	numLines        = flag.Int("num_lines", 0, "Write this many bare values, one per line, instead of a csv.")

	cohorts = flag.String("cohorts", "", "Comma-separated cohorts to plot. Empty means all cohorts.")
)

func main() {
	flag.Parse()

	// beam.Init() is an initialization hook that must be called on startup. On
	// distributed runners, it is used to intercept control.
	beam.Init()

	if *tool == "" {
		log.Exit("No tool was chosen")
	}

	var t tools.Tool
	switch *tool {
	case "sum_bits":
		requireInputFile()
		requireOutputFile()
		t = &tools.SumBits{ParamsFile: *paramsFile, InputFile: *inputFile, OutputFile: *outputFile, Format: *format, UseBeam: *useBeam}
	case "sum_bits_assoc":
		requireInputFile()
		if *jointOutputFile == "" || *marginal1OutputFile == "" || *marginal2OutputFile == "" {
			log.Exit("sum_bits_assoc needs --joint_output_file, --marginal1_output_file and --marginal2_output_file")
		}
		t = &tools.SumBitsAssoc{
			ParamsFile1:         *paramsFile,
			ParamsFile2:         *paramsFile2,
			InputFile:           *inputFile,
			JointOutputFile:     *jointOutputFile,
			Marginal1OutputFile: *marginal1OutputFile,
			Marginal2OutputFile: *marginal2OutputFile,
			UseBeam:             *useBeam,
		}
	case "sharded_sum_bits":
		if *inputFiles == "" {
			log.Exit("No input files were chosen")
		}
		requireOutputFile()
		t = &tools.ShardedSumBits{
			ParamsFile:  *paramsFile,
			InputFiles:  strings.Split(*inputFiles, ","),
			SnapshotDir: *snapshotDir,
			OutputFile:  *outputFile,
			Format:      *format,
			Parallelism: *parallelism,
		}
	case "hash_candidates":
		requireInputFile()
		requireOutputFile()
		t = &tools.HashCandidates{ParamsFile: *paramsFile, InputFile: *inputFile, OutputFile: *outputFile}
	case "gen_input":
		requireOutputFile()
		t = &tools.GenInput{OutputFile: *outputFile, Options: simulation.GenInputOptions{
			Dist:            *dist,
			DistParam:       *distParam,
			NumUniqueValues: *numUniqueValues,
			NumClients:      *numClients,
			ValuesPerClient: *valuesPerClient,
			NumLines:        *numLines,
			Seed:            *seed,
		}}
	case "assign_cohorts":
		requireInputFile()
		requireOutputFile()
		t = &tools.AssignCohorts{ParamsFile: *paramsFile, InputFile: *inputFile, OutputFile: *outputFile, Seed: *seed}
	case "sim", "sim_assoc":
		requireInputFile()
		requireOutputFile()
		t = &tools.Simulate{
			ParamsFile:    *paramsFile,
			InputFile:     *inputFile,
			OutputFile:    *outputFile,
			Assoc:         *tool == "sim_assoc",
			RandomMode:    *randomMode,
			Seed:          *seed,
			RandomSecrets: *randomSecrets,
		}
	case "plot":
		requireInputFile()
		requireOutputFile()
		t = &tools.PlotCohorts{InputFile: *inputFile, OutputFile: *outputFile, Cohorts: parseCohorts(*cohorts)}
	default:
		log.Exitf("There is no tool with id = %s", *tool)
	}

	if err := tools.Run(context.Background(), t); err != nil {
		log.Exitf("Couldn't run tool, err = %v", err)
	}
}

func requireInputFile() {
	if *inputFile == "" {
		log.Exit("No input file was chosen")
	}
}

func requireOutputFile() {
	if *outputFile == "" {
		log.Exit("No output file was chosen")
	}
}

func parseCohorts(s string) []int {
	if s == "" {
		return nil
	}
	var result []int
	for _, field := range strings.Split(s, ",") {
		c, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			log.Exitf("Couldn't read cohort = %q as int, err = %v", field, err)
		}
		result = append(result, c)
	}
	return result
}
