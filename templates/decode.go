package templates

import (
	"encoding/json"
	"fmt"

	"github.com/deepauras/auroraflow/core"
)

// decodeTemplate round-trips a docstore-decoded document back into a
// core.Template, since List/scanFiltered hand back generic
// map[string]interface{} documents rather than typed ones.
func decodeTemplate(doc map[string]interface{}) (*core.Template, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("templates: encode document: %w", err)
	}
	var tpl core.Template
	if err := json.Unmarshal(raw, &tpl); err != nil {
		return nil, fmt.Errorf("templates: decode document: %w", err)
	}
	return &tpl, nil
}
