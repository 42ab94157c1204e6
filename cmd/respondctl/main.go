package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"marketplace-responder/backend/pkg/jwt"
)

const defaultBaseURL = "http://localhost:8081"

func main() {
	baseURL := flag.String("url", defaultBaseURL, "Responder base URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "token":
		err = token(args)
	case "send":
		err = send(*baseURL, args)
	case "listen":
		err = listen(*baseURL, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Println("Responder tools usage:")
	fmt.Println("  respondctl [-url URL] token  -subject NAME [-role operator|viewer] [-ttl 24h]")
	fmt.Println("  respondctl [-url URL] send   -sender ID -listing ID [-queue] TEXT")
	fmt.Println("  respondctl [-url URL] listen [-sender ID] [-listing ID]")
}

// token signs an admin token with JWT_SECRET
func token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "", "Token subject")
	role := fs.String("role", string(jwt.RoleOperator), "Role granted by the token")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = fs.Parse(args)

	if *subject == "" {
		return fmt.Errorf("-subject is required")
	}
	svc, err := jwt.NewService(os.Getenv("JWT_SECRET"), *ttl)
	if err != nil {
		return fmt.Errorf("JWT_SECRET: %w", err)
	}
	signed, err := svc.GenerateToken(*subject, jwt.Role(*role))
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

// send posts one buyer message and prints the verdict
func send(baseURL string, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	sender := fs.String("sender", "", "Buyer id")
	listing := fs.String("listing", "", "Listing id")
	queued := fs.Bool("queue", false, "Enqueue instead of waiting for the verdict")
	_ = fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if *sender == "" || *listing == "" || text == "" {
		return fmt.Errorf("-sender, -listing and a message text are required")
	}

	body, err := json.Marshal(map[string]string{
		"sender_id":  *sender,
		"listing_id": *listing,
		"text":       text,
	})
	if err != nil {
		return err
	}

	path := "/api/v1/messages"
	if *queued {
		path += "/queue"
	}
	client := &http.Client{Timeout: time.Minute}
	resp, err := client.Post(baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, out, "", "  ") == nil {
		out = pretty.Bytes()
	}
	fmt.Printf("%s\n%s\n", resp.Status, out)
	return nil
}

// listen prints every result frame until interrupted
func listen(baseURL string, args []string) error {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	sender := fs.String("sender", "", "Only results for this buyer")
	listing := fs.String("listing", "", "Only results for this listing")
	_ = fs.Parse(args)

	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/api/v1/stream"
	q := u.Query()
	if *sender != "" {
		q.Set("sender_id", *sender)
	}
	if *listing != "" {
		q.Set("listing_id", *listing)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", u.String(), err)
	}
	defer conn.Close()
	fmt.Println("Listening on", u.String())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			fmt.Println(string(data))
		}
	}()

	select {
	case err := <-done:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return nil
		}
		return err
	case <-interrupt:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return nil
	}
}
