package report

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/mledur/billkeeper/internal/models"
)

// ExportXML renders a report as an XML summary document, the structured
// form the export pipeline feeds to downstream formatters.
func ExportXML(r models.Report) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("report")
	root.CreateAttr("month", fmt.Sprintf("%02d", r.Month))
	root.CreateAttr("year", fmt.Sprintf("%d", r.Year))

	statuses := root.CreateElement("statuses")
	for _, s := range models.Statuses() {
		el := statuses.CreateElement("status")
		el.CreateAttr("name", string(s))
		el.SetText(r.ByStatus[s].StringFixed(2))
	}

	categories := root.CreateElement("categories")
	for _, c := range models.Categories() {
		el := categories.CreateElement("category")
		el.CreateAttr("name", string(c))
		el.SetText(r.ByCategory[c].StringFixed(2))
	}

	root.CreateElement("total").SetText(r.Total.StringFixed(2))

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to render report XML: %w", err)
	}
	return out, nil
}
