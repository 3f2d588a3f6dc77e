package check

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pitbox-racing/pitbox-relay-go/log"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/config"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/utils"
)

func NewCheckHubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub url",
		Short: "check that a relay hub is up and serving",
		Long: `Waits until the hub behind the given websocket url accepts TCP
connections and answers on its info endpoint. Exits non-zero on timeout.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			checkHub(args[0])
		},
	}
	return cmd
}

func checkHub(wsURL string) {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}

	addr, proto := utils.ExtractFromWebsocketURL(wsURL)
	if addr == "" {
		log.Fatal("not a websocket url", log.String("url", wsURL))
	}
	if err = utils.WaitForTCP(addr, timeout); err != nil {
		log.Fatal("hub not ready", log.ErrorField(err))
	}

	if err = utils.WaitForHTTPResponse(infoURL(addr, proto), timeout); err != nil {
		log.Fatal("hub info endpoint not ready", log.ErrorField(err))
	}
	log.Info("hub is ready", log.String("addr", addr))
}

func infoURL(addr, proto string) string {
	scheme := "http"
	if proto == "wss" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/info", scheme, addr)
}
