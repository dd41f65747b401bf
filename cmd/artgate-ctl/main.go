package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
)

var version = "dev"

const uploadChunkSize = 256 * 1024

type ctl struct {
	addr      string
	principal string
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "artgate API address")
	principal := flag.String("principal", "", "identity sent with every request")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	c := &ctl{addr: *addr, principal: *principal}

	switch args[0] {
	case "version":
		fmt.Printf("artgate-ctl %s\n", version)
	case "status":
		c.printJSON(c.do("GET", "/v1/status", nil, ""))
	case "submissions":
		c.cmdSubmissions()
	case "submit":
		need(args, 2, "artgate-ctl submit <image> [mime-type]")
		mime := ""
		if len(args) > 2 {
			mime = args[2]
		}
		c.cmdSubmit(args[1], mime)
	case "verify":
		need(args, 2, "artgate-ctl verify <submission-id>")
		c.printJSON(c.do("POST", "/v1/submissions/"+args[1]+"/verify", nil, ""))
	case "detect":
		need(args, 2, "artgate-ctl detect <submission-id>")
		c.printJSON(c.do("POST", "/v1/submissions/"+args[1]+"/detect", nil, ""))
	case "records":
		c.cmdRecords()
	case "record":
		need(args, 2, "artgate-ctl record <id>")
		c.printJSON(c.do("GET", "/v1/records/"+args[1], nil, ""))
	case "faces":
		c.printJSON(c.do("GET", "/v1/faces", nil, ""))
	case "enroll":
		need(args, 3, "artgate-ctl enroll <label> <image>")
		data := readFile(args[2])
		c.printJSON(c.do("PUT", "/v1/faces/"+args[1], data, "application/octet-stream"))
	case "unenroll":
		need(args, 2, "artgate-ctl unenroll <label>")
		c.do("DELETE", "/v1/faces/"+args[1], nil, "").Body.Close()
	case "models":
		c.printJSON(c.do("GET", "/v1/models", nil, ""))
	case "model":
		c.cmdModel(args[1:])
	case "regions":
		c.cmdRegions()
	case "snapshot":
		c.printJSON(c.do("POST", "/v1/admin/snapshot", nil, ""))
	case "snapshots":
		path := "/v1/admin/snapshots"
		if len(args) > 1 {
			path += "?region=" + args[1]
		}
		c.printJSON(c.do("GET", path, nil, ""))
	case "restore":
		need(args, 2, "artgate-ctl restore <region>")
		c.printJSON(c.do("POST", "/v1/admin/restore/"+args[1], nil, ""))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `artgate-ctl - artgate management CLI

Usage:
  artgate-ctl [flags] <command> [args]

Commands:
  status                        Show overall status
  submissions                   List open submissions
  submit <image> [mime]         Upload an image as a new submission
  detect <id>                   Run face detection on a submission
  verify <id>                   Verify a submission and store it if approved
  records                       List approved records
  record <id>                   Show one approved record
  faces                         List enrolled labels
  enroll <label> <image>        Enroll a face from an image
  unenroll <label>              Remove an enrolled face
  models                        Show stored model sizes
  model upload <kind> <file>    Append a model file (detection|recognition)
  model clear <kind>            Clear a stored model
  model setup                   Push stored models to the inference workers
  regions                       Show region sizes
  snapshot                      Snapshot every region to object storage
  snapshots [region]            List stored snapshots
  restore <region>              Restore a region from its latest snapshot
  version                       Show version

Flags:
  -addr string        API address (default "http://localhost:8080")
  -principal string   identity sent with every request`)
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

func fail(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", a...)
	os.Exit(1)
}

func readFile(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		fail("%v", err)
	}
	return data
}

// do sends a request and exits on transport errors or non-2xx replies.
func (c *ctl) do(method, path string, body []byte, contentType string) *http.Response {
	req, err := http.NewRequest(method, c.addr+path, bytes.NewReader(body))
	if err != nil {
		fail("%v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.principal != "" {
		req.Header.Set("X-Artgate-Principal", c.principal)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fail("%v", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			fail("%s (%s)", e.Error, e.Code)
		}
		fail("%s %s: %s", method, path, resp.Status)
	}
	return resp
}

func (c *ctl) decode(resp *http.Response, v interface{}) {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		fail("decoding response: %v", err)
	}
}

func (c *ctl) cmdSubmit(path, mime string) {
	data := readFile(path)
	if mime == "" {
		mime = http.DetectContentType(data)
	}

	var start struct {
		ID uint64 `json:"id"`
	}
	c.decode(c.do("POST", "/v1/submissions", nil, ""), &start)
	base := "/v1/submissions/" + strconv.FormatUint(start.ID, 10)

	for index, off := 0, 0; off < len(data); index, off = index+1, off+uploadChunkSize {
		end := off + uploadChunkSize
		if end > len(data) {
			end = len(data)
		}
		c.do("PUT", base+"/chunks/"+strconv.Itoa(index), data[off:end], "application/octet-stream").Body.Close()
	}

	sum := sha256.Sum256(data)
	fin, _ := json.Marshal(map[string]interface{}{
		"mime_type": mime,
		"size":      len(data),
		"sha256":    hex.EncodeToString(sum[:]),
	})
	c.do("POST", base+"/finalize", fin, "application/json").Body.Close()
	fmt.Printf("submission %d: %d bytes, %s\n", start.ID, len(data), mime)
}

func (c *ctl) cmdSubmissions() {
	var subs []map[string]interface{}
	c.decode(c.do("GET", "/v1/submissions", nil, ""), &subs)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATOR\tCHUNKS\tSIZE\tFINALIZED\tUPDATED")
	for _, s := range subs {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\n",
			s["id"], s["creator"], s["chunks"], s["size"], s["finalized"], s["updated_at"])
	}
	w.Flush()
}

func (c *ctl) cmdRecords() {
	var recs []map[string]interface{}
	c.decode(c.do("GET", "/v1/records", nil, ""), &recs)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATOR\tMIME\tSCORE\tRECOGNIZED\tAPPROVED")
	for _, r := range recs {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\n",
			r["id"], r["creator"], r["mime_type"], r["score"], r["recognized_as"], r["approved_at"])
	}
	w.Flush()
}

func (c *ctl) cmdRegions() {
	var regions []map[string]interface{}
	c.decode(c.do("GET", "/v1/regions", nil, ""), &regions)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLENGTH\tPAGES")
	for _, r := range regions {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\n", r["id"], r["name"], r["length"], r["pages"])
	}
	w.Flush()
}

func (c *ctl) cmdModel(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: artgate-ctl model upload|clear|setup ...")
		os.Exit(1)
	}
	switch args[0] {
	case "upload":
		need(args, 3, "artgate-ctl model upload <kind> <file>")
		data := readFile(args[2])
		c.printJSON(c.do("POST", "/v1/models/"+args[1], data, "application/octet-stream"))
	case "clear":
		need(args, 2, "artgate-ctl model clear <kind>")
		c.do("DELETE", "/v1/models/"+args[1], nil, "").Body.Close()
	case "setup":
		c.printJSON(c.do("POST", "/v1/models/setup", nil, ""))
	default:
		fail("unknown model command: %s", args[0])
	}
}

func (c *ctl) printJSON(resp *http.Response) {
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func printJSON(r io.Reader) {
	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		fmt.Fprintf(os.Stderr, "error decoding response: %v\n", err)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
