package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/alexflint/go-arg"

	"dagger.io/dagger"

	"github.com/lopezpalacios/recurring-commitment"
)

const imageName = "commitment-ledger"

func main() {
	var args struct {
		Registry string `arg:"-r,--registry,env:REGISTRY" help:"registry to publish to, the image is only built when empty"`
		Username string `arg:"env:REGISTRY_USERNAME" help:"registry user"`
		Password string `arg:"env:REGISTRY_PASSWORD" help:"registry password"`
		EnvTag   string `arg:"env:ENV_TAG" default:"dev" help:"environment the image is built for"`
		Branch   string `arg:"env:BRANCH" help:"git branch, added as a tag"`
		Sha      string `arg:"env:SHA" help:"git commit, added as a tag"`
	}
	arg.MustParse(&args)

	ctx := context.Background()
	client, err := dagger.Connect(ctx, dagger.WithLogOutput(os.Stdout))
	if err != nil {
		panic(err)
	}
	defer client.Close()

	binary := client.Container().
		From("golang:1.21").
		WithDirectory("/src", client.Host().Directory("."), dagger.ContainerWithDirectoryOpts{
			Exclude: []string{"ci/", "_examples/"},
		}).
		WithWorkdir("/src").
		WithEnvVariable("CGO_ENABLED", "0").
		WithExec([]string{"go", "build", "-o", "/out/commitments", "./cmd/commitments"}).
		File("/out/commitments")
	container := client.Container(dagger.ContainerOpts{Platform: "linux/amd64"}).
		From("gcr.io/distroless/static-debian12").
		WithEnvVariable("ENV", args.EnvTag).
		WithFile("/commitments", binary).
		WithEntrypoint([]string{"/commitments"})

	if len(args.Registry) == 0 {
		if _, err = container.Sync(ctx); err != nil {
			log.Fatalf("build: failed to build image: %v", err)
		}
		log.Printf("build: image built, no registry to publish to")
		return
	}
	if len(args.Username) > 0 {
		container = container.WithRegistryAuth(args.Registry, args.Username, client.SetSecret("RegistryPassword", args.Password))
	}
	tags := []string{args.EnvTag, args.Branch, args.Sha}
	// Only production images get the "latest" tag
	if args.EnvTag == commitments.EnvTag_Prod {
		tags = append(tags, "latest")
	}
	for _, tag := range tags {
		if len(tag) == 0 {
			continue
		}
		if ref, err := container.Publish(ctx, fmt.Sprintf("%s/%s:%s", args.Registry, imageName, tag)); err != nil {
			log.Fatalf("build: failed to push image: %v", err)
		} else {
			log.Printf("build: published %s", ref)
		}
	}
}
