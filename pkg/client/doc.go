// Package client is a Go client for the artgate NATS request-reply API.
//
// # Basic Usage
//
//	nc, _ := nats.Connect("nats://localhost:4222")
//	c, _ := client.New(client.Config{NC: nc, Principal: "alice"})
//
//	id, _ := c.Upload(ctx, bytes.NewReader(img), "image/jpeg", 0)
//	recordID, err := c.Verify(ctx, id)
//
// Upload splits the image into chunks, sends each with PutChunk and
// finalizes the submission with the image's size and SHA-256. When
// [Config.JS] is set, chunks are published to the durable chunk stream
// instead and applied asynchronously by the server's ingest consumer.
//
// # Subjects
//
// Every operation is a request on {prefix}.{op}; the prefix defaults to
// "artgate.api". Binary payloads (chunks, enrollment images) travel as the
// raw message body with their parameters in headers; everything else is
// JSON. Replies are a [Response] envelope.
//
//	artgate.api.submissions.start      start a submission
//	artgate.api.submissions.chunk      store one chunk (Artgate-Submission, Artgate-Index)
//	artgate.api.submissions.finalize   declare MIME type, size and hash
//	artgate.api.submissions.get        describe a submission
//	artgate.api.submissions.detect     run face detection
//	artgate.api.submissions.verify     verify and admit
//	artgate.api.faces.enroll           enroll a vector
//	artgate.api.faces.enroll_image     enroll an image (Artgate-Label)
//	artgate.api.faces.remove           remove a label
//	artgate.api.faces.list             list labels
//	artgate.api.faces.count            count labels
//	artgate.api.records.get            fetch one approved record
//	artgate.api.records.list           list approved records
//	artgate.api.records.count          count approved records
//	artgate.api.regions.stats          region sizes
package client
