package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// documentPrompt is the shared prompt used by all LLM providers
func documentPrompt(docType string) string {
	return fmt.Sprintf(`You are an expert document data extraction agent for a finance team.
Carefully read all text in the attached %[1]s and extract the following fields:

1. **document_type**: Always set this to "%[1]s".
2. **document_id**: The unique document number, e.g. INV-2024-001 or PO-2024-001.
3. **vendor_name**: The name of the vendor or supplier company.
4. **total_amount**: The final total monetary value as a number.
5. **items**: Every line item with its description, quantity and unit price.

Return ONLY valid JSON in this exact format:
{
  "document_type": "%[1]s",
  "document_id": "string",
  "vendor_name": "string",
  "total_amount": 0.00,
  "items": [
    {"description": "string", "quantity": 0, "unit_price": 0.00}
  ]
}

Important:
- Amounts, quantities and prices must be numbers, not strings
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`, docType)
}

// parseDocumentJSON parses the JSON answer of a model
func parseDocumentJSON(text, docType string) (*DocumentData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var data DocumentData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.DocumentID = strings.TrimSpace(data.DocumentID)
	data.VendorName = strings.TrimSpace(data.VendorName)
	if strings.TrimSpace(data.DocumentType) == "" {
		data.DocumentType = docType
	}

	items := make([]LineItem, 0, len(data.Items))
	for _, item := range data.Items {
		item.Description = strings.TrimSpace(item.Description)
		if item.Description == "" && item.Quantity == 0 && item.UnitPrice == 0 {
			continue
		}
		items = append(items, item)
	}
	data.Items = items

	return &data, nil
}
