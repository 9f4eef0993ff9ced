// Command mqtt_publisher simulates the ESP device: it publishes encrypted
// telemetry and prints the decrypted commands it receives.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/eddielth/telemetry-bridge/codec"
	"github.com/eddielth/telemetry-bridge/transformer"
)

// DeviceConfig describes one simulated device
type DeviceConfig struct {
	ID       string
	Interval time.Duration
}

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	username := flag.String("username", "", "MQTT username")
	password := flag.String("password", "", "MQTT password")
	passphrase := flag.String("passphrase", os.Getenv("passphrase"), "shared passphrase")
	topic := flag.String("topic", "Fox_32_Home/ESP", "telemetry topic (the bridge's subscribe topic)")
	commands := flag.String("commands", "Fox_32_Home/#", "command topic filter to listen on")
	mode := flag.String("mode", "continuous", "run mode: single, batch, continuous, tampered")
	flag.Parse()

	if *passphrase == "" {
		fmt.Println("a passphrase is required (-passphrase or $passphrase)")
		os.Exit(1)
	}

	c, err := codec.New(*passphrase)
	if err != nil {
		fmt.Printf("failed to create codec: %v\n", err)
		os.Exit(1)
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID(fmt.Sprintf("esp-simulator-%d", time.Now().Unix()))
	if *username != "" {
		opts.SetUsername(*username)
		opts.SetPassword(*password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		fmt.Printf("connection lost: %v\n", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Printf("failed to connect to MQTT broker: %v\n", token.Error())
		os.Exit(1)
	}
	fmt.Printf("connected to MQTT broker: %s\n", *broker)

	client.Subscribe(*commands, 0, func(_ paho.Client, msg paho.Message) {
		if msg.Topic() == *topic {
			return
		}
		text, err := c.Decrypt(msg.Payload())
		if err != nil {
			fmt.Printf("[%s] undecodable payload: %v\n", msg.Topic(), err)
			return
		}
		fmt.Printf("[%s] command: %s\n", msg.Topic(), text)
	}).Wait()

	sim := &simulator{client: client, codec: c, topic: *topic}

	switch *mode {
	case "single":
		sim.publish(sim.reading("Sensor_ESP"))
	case "batch":
		for i := 1; i <= 10; i++ {
			sim.publish(sim.reading(fmt.Sprintf("Sensor_ESP_%02d", i)))
			time.Sleep(100 * time.Millisecond)
		}
		fmt.Println("batch published")
	case "tampered":
		sim.publishTampered(sim.reading("Sensor_ESP"))
	case "continuous":
		sim.run([]DeviceConfig{
			{ID: "Sensor_ESP", Interval: 5 * time.Second},
			{ID: "Sensor_ESP_Garden", Interval: 8 * time.Second},
		})
	default:
		fmt.Println("unknown mode, use single, batch, continuous or tampered")
		os.Exit(1)
	}

	client.Disconnect(250)
}

type simulator struct {
	client paho.Client
	codec  *codec.Codec
	topic  string
}

func (s *simulator) reading(id string) transformer.TelemetryRecord {
	temp := 25.0 + (rand.Float64()*10 - 5)
	hum := 40.0 + rand.Float64()*40
	return transformer.TelemetryRecord{
		ID:          id,
		Temperature: float64(int(temp*10)) / 10,
		Humidity:    float64(int(hum*10)) / 10,
		Button:      rand.Intn(2),
	}
}

func (s *simulator) encode(rec transformer.TelemetryRecord) ([]byte, string, error) {
	// RegisteredAt is assigned by the store, devices never send it
	jsonData, err := json.Marshal(map[string]interface{}{
		transformer.KeyID:          rec.ID,
		transformer.KeyTemperature: rec.Temperature,
		transformer.KeyHumidity:    rec.Humidity,
		transformer.KeyButton:      rec.Button,
	})
	if err != nil {
		return nil, "", err
	}

	blob, err := s.codec.Encrypt(string(jsonData))
	return blob, string(jsonData), err
}

func (s *simulator) publish(rec transformer.TelemetryRecord) {
	blob, text, err := s.encode(rec)
	if err != nil {
		fmt.Printf("failed to encode reading: %v\n", err)
		return
	}

	token := s.client.Publish(s.topic, 0, false, blob)
	token.Wait()
	if token.Error() != nil {
		fmt.Printf("failed to publish: %v\n", token.Error())
		return
	}
	fmt.Printf("[%s] published %s\n", time.Now().Format("15:04:05"), text)
}

// publishTampered sends a message with one flipped ciphertext byte; the bridge must discard it.
func (s *simulator) publishTampered(rec transformer.TelemetryRecord) {
	blob, text, err := s.encode(rec)
	if err != nil {
		fmt.Printf("failed to encode reading: %v\n", err)
		return
	}
	blob[len(blob)-1] ^= 0xFF

	s.client.Publish(s.topic, 0, false, blob).Wait()
	fmt.Printf("published tampered copy of %s\n", text)
}

func (s *simulator) run(devices []DeviceConfig) {
	for _, device := range devices {
		go func(dev DeviceConfig) {
			for {
				s.publish(s.reading(dev.ID))
				time.Sleep(dev.Interval)
			}
		}(device)
		fmt.Printf("device %s reports every %v\n", device.ID, device.Interval)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("disconnecting...")
}
