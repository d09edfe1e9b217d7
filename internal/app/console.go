package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/flowberry/internal/config"
	"github.com/relabs-tech/flowberry/internal/telemetry"
)

// RunFlowConsole prints every flow sample mirrored on the MQTT topic until
// interrupted.
func RunFlowConsole(cfg *config.Config) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is not configured")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicFlow, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := printFlow(os.Stdout, msg.Payload()); err != nil {
			log.Printf("console: flow unmarshal error: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicFlow)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func printFlow(w io.Writer, payload []byte) error {
	var s telemetry.FlowSample
	if err := json.Unmarshal(payload, &s); err != nil {
		return err
	}
	if !s.Valid {
		fmt.Fprintf(w, "[FLOW] no estimate  vec=%d good=%d  dist=%.2fm\n",
			s.Correspondences, s.GoodVectors, s.GroundDistanceM)
		return nil
	}
	fmt.Fprintf(w,
		"[FLOW] dx=%6.2f dy=%6.2f dr=%7.4f  q=%3d  inl=%d/%d  dist=%.2fm  v=(%.3f, %.3f) m/s  %dus\n",
		s.DxPx, s.DyPx, s.DrRad, s.Quality, s.Inliers, s.Correspondences,
		s.GroundDistanceM, s.FlowXMS, s.FlowYMS, s.ProcessingUs,
	)
	return nil
}
