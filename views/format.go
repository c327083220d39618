package views

import (
	"encoding/json"
	"fmt"

	"github.com/sweater-ventures/optimist/window"
)

func containerStyle(viewport int) string {
	return fmt.Sprintf("height: %dpx; overflow-y: auto; position: relative;", viewport)
}

// rowsStyle sizes the row container to the whole list so the scrollbar
// reflects every row, mounted or not.
func rowsStyle(plan window.Plan) string {
	return fmt.Sprintf("height: %dpx; position: relative;", plan.TotalSize)
}

func rowStyle(item window.Item) string {
	return fmt.Sprintf("position: absolute; top: 0; left: 0; width: 100%%; height: %dpx; transform: %s;", item.Size, item.Transform)
}

func cellText(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(out)
	}
}
