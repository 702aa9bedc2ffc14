package main

import (
	"context"
	"log"
	"os"

	"dagger.io/dagger"
)

func main() {
	ctx := context.Background()

	client, err := dagger.Connect(ctx, dagger.WithLogOutput(os.Stdout))
	if err != nil {
		panic(err)
	}
	defer client.Close()

	// Mount the repo at /src in a golang:1.21 container
	source := client.Container().
		From("golang:1.21").
		WithDirectory(
			"/src",
			client.Host().Directory("../../../"), dagger.ContainerWithDirectoryOpts{
				Exclude: []string{"ci/", "_examples/"},
			},
		)
	runner := source.WithWorkdir("/src")

	// Pass the scratch database through so the Postgres repository tests run in CI too
	if testDbUrl := os.Getenv("COMMITMENTS_TEST_DB_URL"); len(testDbUrl) > 0 {
		runner = runner.WithEnvVariable("COMMITMENTS_TEST_DB_URL", testDbUrl)
	}

	if _, err = runner.WithExec([]string{"go", "vet", "./..."}).Sync(ctx); err != nil {
		log.Fatalf("test: vet failed [%v]", err)
	}
	out, err := runner.WithExec([]string{"go", "test", "-race", "./..."}).Stdout(ctx)
	if err != nil {
		log.Fatalf("test: error running tests [%v]", err)
	}
	log.Printf("test: finished running tests [%s]", out)
}
