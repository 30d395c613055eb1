package streaming_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/Landanjs/streaming"
)

// Example_roundTrip writes a tiny dataset to a local directory and reads a
// record back through the cache.
func Example_roundTrip() {
	remote, err := os.MkdirTemp("", "dataset-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(remote)
	local, err := os.MkdirTemp("", "cache-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(local)

	ctx := context.Background()

	w, err := streaming.NewWriter(ctx, remote,
		streaming.Schema{"text": "str"},
		streaming.WithHashes("xxh64"),
	)
	if err != nil {
		log.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Write(streaming.Record{"text": []byte(fmt.Sprintf("hello %d", i))}); err != nil {
			log.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}

	ds, err := streaming.Open(ctx, remote, local,
		streaming.WithHashVerification(""),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer ds.Close()

	rec, err := ds.Get(ctx, 1)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%d records, record 1 = %q\n", ds.Len(), rec["text"])
	// Output: 3 records, record 1 = "hello 1"
}
