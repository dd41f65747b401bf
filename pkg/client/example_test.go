package client_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/gftdcojp/artgate/pkg/client"
	"github.com/nats-io/nats.go"
)

func Example() {
	nc, err := nats.Connect("nats://localhost:4222")
	if err != nil {
		log.Fatal(err)
	}
	defer nc.Close()

	c, err := client.New(client.Config{NC: nc, Principal: "alice"})
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	f, err := os.Open("portrait.jpg")
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	id, err := c.Upload(ctx, f, "image/jpeg", 0)
	if err != nil {
		log.Fatal(err)
	}

	recordID, err := c.Verify(ctx, id)
	switch {
	case errors.Is(err, client.ErrIdentityMismatch):
		fmt.Println("rejected: wrong subject")
	case err != nil:
		log.Fatal(err)
	default:
		fmt.Println("approved as record", recordID)
	}
}
