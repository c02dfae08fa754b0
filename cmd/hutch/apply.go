package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/hutch/pkg/client"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply hutch resources from a YAML file. Resources are matched by
name: existing ones are updated, missing ones are created.

Examples:
  # Apply a schedule definition
  hutch apply -f nightly-report.yaml

  # Apply several resources from one file
  hutch apply -f resources.yaml --server http://queue.internal:3000`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	applyCmd.Flags().String("server", "http://localhost:3000", "API base URL")
	applyCmd.Flags().String("api-key", "", "API key (defaults to HUTCH_API_KEY)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// HutchResource represents a generic hutch resource
type HutchResource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ResourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	server, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		apiKey = os.Getenv("HUTCH_API_KEY")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	c := client.New(server, apiKey)

	// A file may hold several resources separated by "---"
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var resource HutchResource
		if err := dec.Decode(&resource); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to parse YAML: %v", err)
		}
		if resource.Kind == "" {
			continue
		}
		if resource.Metadata.Name == "" {
			return fmt.Errorf("%s resource is missing metadata.name", resource.Kind)
		}

		switch resource.Kind {
		case "Schedule":
			err = applySchedule(c, &resource)
		case "Subscription":
			err = applySubscription(c, &resource)
		default:
			err = fmt.Errorf("unsupported resource kind: %s", resource.Kind)
		}
		if err != nil {
			return err
		}
	}
}

func applySchedule(c *client.Client, resource *HutchResource) error {
	name := resource.Metadata.Name
	spec := resource.Spec
	if spec == nil {
		spec = map[string]interface{}{}
	}
	spec["name"] = name

	existing, err := c.Schedules()
	if err != nil {
		return fmt.Errorf("failed to list schedules: %v", err)
	}
	for _, s := range existing {
		if s.Name == name {
			fmt.Printf("Updating schedule: %s\n", name)
			if _, err := c.UpdateSchedule(s.ID, spec); err != nil {
				return fmt.Errorf("failed to update schedule: %v", err)
			}
			fmt.Printf("✓ Schedule updated: %s (ID: %s)\n", name, s.ID)
			return nil
		}
	}

	fmt.Printf("Creating schedule: %s\n", name)
	sched, err := c.CreateSchedule(spec)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %v", err)
	}
	fmt.Printf("✓ Schedule created: %s (ID: %s)\n", name, sched.ID)
	return nil
}

func applySubscription(c *client.Client, resource *HutchResource) error {
	name := resource.Metadata.Name
	spec := resource.Spec
	if spec == nil {
		spec = map[string]interface{}{}
	}
	spec["name"] = name

	existing, err := c.Subscriptions()
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %v", err)
	}
	for _, s := range existing {
		if s.Name == name {
			fmt.Printf("Updating subscription: %s\n", name)
			if _, err := c.UpdateSubscription(s.ID, spec); err != nil {
				return fmt.Errorf("failed to update subscription: %v", err)
			}
			fmt.Printf("✓ Subscription updated: %s (ID: %s)\n", name, s.ID)
			return nil
		}
	}

	fmt.Printf("Creating subscription: %s\n", name)
	sub, err := c.CreateSubscription(spec)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %v", err)
	}
	fmt.Printf("✓ Subscription created: %s (ID: %s)\n", name, sub.ID)
	return nil
}
