package workflow

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mscno/ginproc/pkg/drone"
	"gopkg.in/yaml.v3"
)

// DroneFileName is the pipeline-definition file the CI host picks up.
const DroneFileName = ".drone.yml"

const buildImage = "gnode/gin-client:latest"

// droneFile is the document written into the clone. Field order is fixed
// by the struct, so identical requests produce identical bytes.
type droneFile struct {
	Kind  string        `yaml:"kind"`
	Type  string        `yaml:"type"`
	Name  string        `yaml:"name"`
	Clone droneClone    `yaml:"clone"`
	Steps []droneStep   `yaml:"steps"`
	Trig  *droneTrigger `yaml:"trigger,omitempty"`
}

type droneClone struct {
	Depth int `yaml:"depth"`
}

type droneStep struct {
	Name        string               `yaml:"name"`
	Image       string               `yaml:"image"`
	Environment map[string]droneVar  `yaml:"environment,omitempty"`
	Commands    []string             `yaml:"commands,omitempty"`
	When        *droneStepConditions `yaml:"when,omitempty"`
}

type droneVar struct {
	FromSecret string `yaml:"from_secret"`
}

type droneStepConditions struct {
	Status []string `yaml:"status,flow"`
}

type droneTrigger struct {
	Branch []string `yaml:"branch,flow"`
}

// WriteDroneFile materializes exactly one pipeline-definition file inside
// the clone, parameterized by the request. The build job sets up the SSH
// identity from the repository secret, fetches the requested annexed
// inputs, runs the user's commands, then pushes the requested outputs
// back.
func WriteDroneFile(clonePath string, req Request) error {
	commands := []string{
		"mkdir -p /root/.ssh",
		`echo "$SSH_KEY" > /root/.ssh/id_rsa`,
		"chmod 600 /root/.ssh/id_rsa",
	}
	for _, in := range req.InputFiles {
		commands = append(commands, fmt.Sprintf("gin get-content %s", in))
	}
	commands = append(commands, req.UserCommands...)
	for _, out := range req.OutputFiles {
		commands = append(commands, fmt.Sprintf("gin upload %s", out))
	}

	steps := []droneStep{
		{
			Name:  "workflow",
			Image: buildImage,
			Environment: map[string]droneVar{
				"SSH_KEY": {FromSecret: drone.SecretName},
			},
			Commands: commands,
		},
	}
	if req.Notifications {
		steps = append(steps, droneStep{
			Name:     "notify",
			Image:    buildImage,
			Commands: []string{"gin-notify --status $DRONE_BUILD_STATUS"},
			When:     &droneStepConditions{Status: []string{"success", "failure"}},
		})
	}

	doc := droneFile{
		Kind:  "pipeline",
		Type:  "docker",
		Name:  req.Workflow,
		Clone: droneClone{Depth: 1},
		Steps: steps,
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline definition: %w", err)
	}
	path := filepath.Join(clonePath, DroneFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write pipeline definition: %w", err)
	}
	return nil
}
